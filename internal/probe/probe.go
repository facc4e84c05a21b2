// Package probe checks whether a stream URL currently resolves to something.
package probe

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/nnfz/stretch-host/internal/httputil"
	"github.com/nnfz/stretch-host/internal/logging"
)

var log = logging.L("probe")

// ErrFetchFailed is returned for every transport-level failure.
var ErrFetchFailed = errors.New("fetch failed")

// maxDrain bounds how much of a response body is read before closing.
const maxDrain = 4 * 1024

// Prober issues single-byte range requests against stream URLs.
type Prober struct {
	maxRedirects int
	newClient    func(maxRedirects int) (*http.Client, error)
}

// New creates a prober that follows at most maxRedirects redirects.
func New(maxRedirects int) *Prober {
	return &Prober{
		maxRedirects: maxRedirects,
		newClient:    httputil.NewClient,
	}
}

// Check requests the first byte of url. Any status other than 404 counts as
// live, error statuses included: the probe only tells an absent resource from
// a present one.
func (p *Prober) Check(ctx context.Context, url string) (bool, error) {
	logger := logging.FromContext(ctx, log)

	client, err := p.newClient(p.maxRedirects)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Debug("probe request invalid", "url", url, logging.KeyError, err)
		return false, ErrFetchFailed
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("probe failed", "url", url, logging.KeyError, err)
		return false, ErrFetchFailed
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()

	live := resp.StatusCode != http.StatusNotFound
	logger.Debug("probe result", "url", url, "status", resp.StatusCode, "live", live)
	return live, nil
}
