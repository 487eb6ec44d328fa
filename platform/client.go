// Package platform holds the HTTP clients behind the provider API
// interfaces. Each client translates transport and non-2xx failures into
// publishing.PlatformError so the queue layer can classify them.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func networkError(platformName, operation string, err error) *publishing.PlatformError {
	return &publishing.PlatformError{
		Platform:  platformName,
		Operation: operation,
		IsNetwork: true,
		Message:   err.Error(),
	}
}

func statusError(platformName, operation string, status int, body []byte) *publishing.PlatformError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &publishing.PlatformError{
		Platform:  platformName,
		Operation: operation,
		Status:    status,
		Message:   msg,
	}
}

func doRequest(ctx context.Context, platformName, operation string, req *http.Request, out any) error {
	resp, err := httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return networkError(platformName, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(platformName, operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(platformName, operation, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return statusError(platformName, operation, resp.StatusCode, body)
	}
	return nil
}

func postForm(ctx context.Context, platformName, operation, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return networkError(platformName, operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(ctx, platformName, operation, req, out)
}

func postJSON(ctx context.Context, platformName, operation, endpoint, bearerToken string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return networkError(platformName, operation, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return doRequest(ctx, platformName, operation, req, out)
}

func getJSON(ctx context.Context, platformName, operation, endpoint string, out any) error {
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return networkError(platformName, operation, err)
	}
	return doRequest(ctx, platformName, operation, req, out)
}

// remoteFileSize resolves the byte size of a hosted media file. Servers
// that do not answer HEAD get a one-byte ranged GET instead.
func remoteFileSize(ctx context.Context, platformName, rawURL string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, networkError(platformName, "remoteFileSize", err)
	}
	resp, err := httpClient.Do(req.WithContext(ctx))
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 && resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
	}

	rangeReq, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, networkError(platformName, "remoteFileSize", err)
	}
	rangeReq.Header.Set("Range", "bytes=0-0")
	rangeResp, err := httpClient.Do(rangeReq.WithContext(ctx))
	if err != nil {
		return 0, networkError(platformName, "remoteFileSize", err)
	}
	defer rangeResp.Body.Close()
	_, _ = io.Copy(io.Discard, rangeResp.Body)

	contentRange := rangeResp.Header.Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 {
		return 0, statusError(platformName, "remoteFileSize", rangeResp.StatusCode, []byte("missing Content-Range header"))
	}
	size, err := strconv.ParseInt(contentRange[idx+1:], 10, 64)
	if err != nil || size <= 0 {
		return 0, statusError(platformName, "remoteFileSize", rangeResp.StatusCode, []byte("unparseable Content-Range header"))
	}
	return size, nil
}

// fetchRange downloads one byte range of a hosted media file.
func fetchRange(ctx context.Context, platformName, rawURL string, chunk publishing.ChunkRange) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, networkError(platformName, "fetchRange", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", chunk.Start, chunk.End))

	resp, err := httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, networkError(platformName, "fetchRange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(platformName, "fetchRange", resp.StatusCode, body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(platformName, "fetchRange", err)
	}
	// Some hosts ignore Range and return the whole file.
	if resp.StatusCode == http.StatusOK && int64(len(data)) > chunk.End-chunk.Start+1 {
		data = data[chunk.Start : chunk.End+1]
	}
	return data, nil
}
