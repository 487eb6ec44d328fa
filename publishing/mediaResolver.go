package publishing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

// SignedURLMediaResolver turns stored media references into URLs the
// platform APIs can fetch directly. Plain public URLs pass through
// unchanged; gs:// references and bare object keys are resolved to
// time-limited signed download URLs.
type SignedURLMediaResolver struct {
	Expiry time.Duration
}

func NewSignedURLMediaResolver() *SignedURLMediaResolver {
	return &SignedURLMediaResolver{Expiry: 4 * time.Hour}
}

func (r *SignedURLMediaResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", nil
	}

	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		if !isManagedStorageURL(rawURL) {
			return rawURL, nil
		}
	}

	objectKey := utils.ExtractObjectKeyFromURL(rawURL)
	if objectKey == "" {
		return "", fmt.Errorf("cannot resolve media url %q to an object key", rawURL)
	}

	expiry := r.Expiry
	if expiry <= 0 {
		expiry = 4 * time.Hour
	}
	return utils.SignDownload(ctx, objectKey, expiry)
}

// isManagedStorageURL reports whether the URL points at our own bucket,
// in which case it needs re-signing before a platform can download it.
func isManagedStorageURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "storage.googleapis.com") ||
		strings.Contains(lower, "storage.cloud.google.com")
}
