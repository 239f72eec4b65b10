package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bundleup/bundleup/internal/utils"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type DefaultHTTPClient struct{ *http.Client }

func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{Client: &http.Client{Timeout: timeout}}
}

// ProgressFunc receives cumulative received bytes and the total size
// (total may be 0 when the server sends no Content-Length).
type ProgressFunc func(received, total int64)

func DownloadToFile(ctx context.Context, c HTTPClient, url, dst string, maxSize int64) error {
	return DownloadToFileProgress(ctx, c, url, dst, maxSize, nil)
}

// DownloadToFileProgress streams url into dst, reporting progress after
// each chunk when progress is non-nil.
func DownloadToFileProgress(ctx context.Context, c HTTPClient, url, dst string, maxSize int64, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer utils.Try(resp.Body.Close)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if maxSize > 0 {
		src = io.LimitReader(resp.Body, maxSize)
	}
	if progress != nil {
		src = &progressReader{r: src, total: resp.ContentLength, fn: progress}
	}

	// Stream through a temp file so a mid-transfer failure never leaves a
	// truncated artifact at dst.
	return utils.WriteFileAtomic(dst+".tmp", dst, src)
}

// FetchBytes downloads url fully into memory, capped at maxSize bytes.
// Used for small documents (patch files, manifests), never for bundles.
func FetchBytes(ctx context.Context, c HTTPClient, url string, maxSize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer utils.Try(resp.Body.Close)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if maxSize > 0 {
		src = io.LimitReader(resp.Body, maxSize)
	}
	return io.ReadAll(src)
}

type progressReader struct {
	r        io.Reader
	received int64
	total    int64
	fn       ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.received += int64(n)
		pr.fn(pr.received, pr.total)
	}
	return n, err
}
