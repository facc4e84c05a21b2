package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
)

// chunkSize bounds a single body read; every read is one progress step.
const chunkSize = 256 * 1024

// TransferState is the running tally of one download.
type TransferState struct {
	BytesDownloaded uint64
	TotalSize       uint64 // 0 when the server sent no Content-Length
	Percentage      uint32
}

// advance records n more bytes. It reports false when no percentage can be
// derived because the total size is unknown.
func (s *TransferState) advance(n int) bool {
	s.BytesDownloaded += uint64(n)
	if s.TotalSize == 0 {
		return false
	}
	pct := s.BytesDownloaded * 100 / s.TotalSize
	if pct > 100 {
		pct = 100
	}
	s.Percentage = uint32(pct)
	return true
}

// Download streams rawURL into destPath, truncating any previous file, and
// calls onProgress with the integer percentage after every chunk when the
// response declares its length. The file is closed before Download returns.
// On failure a partially written file is left in place.
func Download(ctx context.Context, client *http.Client, rawURL, destPath string, onProgress func(uint32)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return newError(NetworkError, "invalid download request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return newError(NetworkError, "download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(NetworkError, "download request failed", fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode))
	}

	var state TransferState
	if resp.ContentLength > 0 {
		state.TotalSize = uint64(resp.ContentLength)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return newError(IoError, "failed to create artifact file", err)
	}
	// A file left behind by an earlier attempt keeps its old mode.
	if runtime.GOOS != "windows" {
		if err := out.Chmod(0o755); err != nil {
			out.Close()
			return newError(IoError, "failed to mark artifact executable", err)
		}
	}

	if err := stream(out, resp.Body, &state, onProgress); err != nil {
		out.Close()
		return err
	}

	if err := out.Close(); err != nil {
		return newError(IoError, "failed to close artifact file", err)
	}

	log.Debug("download complete",
		"path", destPath,
		"bytes", state.BytesDownloaded,
		"declaredSize", state.TotalSize,
	)
	return nil
}

func stream(dst io.Writer, src io.Reader, state *TransferState, onProgress func(uint32)) error {
	buf := make([]byte, chunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return newError(IoError, "failed to write artifact file", err)
			}
			if state.advance(n) && onProgress != nil {
				onProgress(state.Percentage)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return newError(NetworkError, "download interrupted", rerr)
		}
	}
}
