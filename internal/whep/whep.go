// Package whep relays WHEP signaling requests from the UI to a media server.
package whep

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pion/sdp/v3"

	"github.com/nnfz/stretch-host/internal/httputil"
	"github.com/nnfz/stretch-host/internal/logging"
)

var log = logging.L("whep")

// ContentTypeSDP is the media type of WHEP offers and answers.
const ContentTypeSDP = "application/sdp"

// StatusError is returned when the WHEP endpoint answers outside 2xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("WHEP returned status %d", e.StatusCode)
}

// Relay posts SDP offers to WHEP endpoints and returns their answers verbatim.
type Relay struct {
	maxRedirects int
	newClient    func(maxRedirects int) (*http.Client, error)
}

// New creates a relay that follows at most maxRedirects redirects.
func New(maxRedirects int) *Relay {
	return &Relay{
		maxRedirects: maxRedirects,
		newClient:    httputil.NewClient,
	}
}

// Request POSTs offer to url and returns the response body as text.
func (r *Relay) Request(ctx context.Context, url, offer string) (string, error) {
	logger := logging.FromContext(ctx, log)

	client, err := r.newClient(r.maxRedirects)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", ContentTypeSDP)

	describe(logger, "offer", offer)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		logger.Warn("WHEP endpoint rejected offer", "status", resp.StatusCode, "url", url)
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	answer := string(body)
	describe(logger, "answer", answer)
	if loc := resp.Header.Get("Location"); loc != "" {
		logger.Debug("WHEP session resource", "location", loc)
	}
	return answer, nil
}

// describe logs the media sections of a session description. SDP is relayed
// opaquely; a payload that does not parse is only noted.
func describe(logger *slog.Logger, kind, raw string) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		logger.Debug("session description not parseable", "kind", kind, logging.KeyError, err)
		return
	}

	media := make([]string, 0, len(desc.MediaDescriptions))
	for _, m := range desc.MediaDescriptions {
		media = append(media, m.MediaName.Media)
	}
	logger.Debug("session description",
		"kind", kind,
		"sessionId", desc.Origin.SessionID,
		"media", media,
	)
}
