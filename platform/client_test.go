package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

func TestRemoteFileSize_UsesHeadContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("unexpected %s request", r.Method)
		}
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	size, err := remoteFileSize(context.Background(), "test", srv.URL)
	if err != nil {
		t.Fatalf("remoteFileSize: %v", err)
	}
	if size != 12345 {
		t.Errorf("size = %d, want 12345", size)
	}
}

func TestRemoteFileSize_FallsBackToRangedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if got := r.Header.Get("Range"); got != "bytes=0-0" {
			t.Errorf("Range = %q, want bytes=0-0", got)
		}
		w.Header().Set("Content-Range", "bytes 0-0/98765")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer srv.Close()

	size, err := remoteFileSize(context.Background(), "test", srv.URL)
	if err != nil {
		t.Fatalf("remoteFileSize: %v", err)
	}
	if size != 98765 {
		t.Errorf("size = %d, want 98765", size)
	}
}

func TestRemoteFileSize_NoContentRangeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := remoteFileSize(context.Background(), "test", srv.URL); err == nil {
		t.Fatal("expected an error when the host reports no size")
	}
}

func TestFetchRange(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		spec := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end, _ := strconv.Atoi(parts[1])
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[start : end+1])
	}))
	defer srv.Close()

	data, err := fetchRange(context.Background(), "test", srv.URL, publishing.ChunkRange{Start: 4, End: 9})
	if err != nil {
		t.Fatalf("fetchRange: %v", err)
	}
	if string(data) != "456789" {
		t.Errorf("data = %q, want 456789", data)
	}
}

func TestFetchRange_SlicesFullResponse(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Host ignores the Range header entirely.
		w.Write(payload)
	}))
	defer srv.Close()

	data, err := fetchRange(context.Background(), "test", srv.URL, publishing.ChunkRange{Start: 10, End: 15})
	if err != nil {
		t.Fatalf("fetchRange: %v", err)
	}
	if string(data) != "abcdef" {
		t.Errorf("data = %q, want abcdef", data)
	}
}

func TestFetchRange_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetchRange(context.Background(), "test", srv.URL, publishing.ChunkRange{Start: 0, End: 3})
	if err == nil {
		t.Fatal("expected an error for a 404 source")
	}
	platformErr, ok := publishing.AsPlatformError(err)
	if !ok {
		t.Fatalf("err = %T, want PlatformError", err)
	}
	if platformErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", platformErr.Status)
	}
}
