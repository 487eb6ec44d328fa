package publishing

import "testing"

func TestPlanChunks(t *testing.T) {
	const mb = int64(1024 * 1024)

	cases := []struct {
		name      string
		totalSize int64
		chunkSize int64
		expected  []ChunkRange
	}{
		{
			name:      "smaller than one chunk goes up whole",
			totalSize: 3 * mb,
			chunkSize: 5 * mb,
			expected:  []ChunkRange{{0, 3*mb - 1}},
		},
		{
			name:      "exact multiple splits evenly",
			totalSize: 10 * mb,
			chunkSize: 5 * mb,
			expected:  []ChunkRange{{0, 5*mb - 1}, {5 * mb, 10*mb - 1}},
		},
		{
			name:      "remainder folds into last chunk",
			totalSize: 12 * mb,
			chunkSize: 5 * mb,
			expected:  []ChunkRange{{0, 5*mb - 1}, {5 * mb, 12*mb - 1}},
		},
		{
			name:      "zero size yields no chunks",
			totalSize: 0,
			chunkSize: 5 * mb,
			expected:  nil,
		},
	}

	for _, tc := range cases {
		got := PlanChunks(tc.totalSize, tc.chunkSize)
		if len(got) != len(tc.expected) {
			t.Fatalf("%s: expected %d chunks, got %d", tc.name, len(tc.expected), len(got))
		}
		for i := range got {
			if got[i] != tc.expected[i] {
				t.Fatalf("%s: chunk %d expected %+v, got %+v", tc.name, i, tc.expected[i], got[i])
			}
		}
	}
}

func TestPlanChunks_CoversEveryByteOnce(t *testing.T) {
	const chunkSize = int64(5 * 1024 * 1024)
	for _, totalSize := range []int64{1, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 12345} {
		chunks := PlanChunks(totalSize, chunkSize)
		var next int64
		for _, c := range chunks {
			if c.Start != next {
				t.Fatalf("size %d: gap before offset %d", totalSize, c.Start)
			}
			next = c.End + 1
		}
		if next != totalSize {
			t.Fatalf("size %d: chunks end at %d", totalSize, next)
		}
	}
}
