package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nnfz/stretch-host/internal/logging"
	"github.com/nnfz/stretch-host/internal/updater"
)

// Host-callable command names.
const (
	CmdWHEPRequest              = "whep_request"
	CmdCheckStreamLive          = "check_stream_live"
	CmdDownloadAndInstallUpdate = "download_and_install_update"
)

// Args are the named string arguments of one invocation.
type Args map[string]string

// Result is the response body of every invocation.
type Result struct {
	OK         bool   `json:"ok"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// CommandHandler runs one host operation.
type CommandHandler func(b *Bridge, ctx context.Context, args Args) (any, error)

// handlerRegistry maps command names to their handlers.
// This map is only written during package init and read-only thereafter.
var handlerRegistry = map[string]CommandHandler{
	CmdWHEPRequest:              handleWHEPRequest,
	CmdCheckStreamLive:          handleCheckStreamLive,
	CmdDownloadAndInstallUpdate: handleDownloadAndInstallUpdate,
}

// argError marks malformed invocations; they are not operation failures.
type argError struct {
	msg string
}

func (e *argError) Error() string { return e.msg }

func (a Args) require(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return "", &argError{msg: fmt.Sprintf("missing required argument: %s", name)}
	}
	return v, nil
}

// Invoke runs command with args and returns the result with the HTTP status
// the bridge answers with. Operation failures are reported with 200 and
// ok=false; only malformed or conflicting calls get an error status.
func (b *Bridge) Invoke(ctx context.Context, command string, args Args) (Result, int) {
	handler, ok := handlerRegistry[command]
	if !ok {
		log.Warn("no handler registered for command", logging.KeyCommand, command)
		return Result{Error: fmt.Sprintf("unknown command: %s", command)}, http.StatusNotFound
	}

	logger := logging.WithInvocation(log, uuid.NewString(), command)
	ctx = logging.NewContext(ctx, logger)

	start := time.Now()
	value, err := handler(b, ctx, args)
	durationMs := time.Since(start).Milliseconds()

	var aerr *argError
	switch {
	case errors.As(err, &aerr):
		logger.Warn("invalid invocation", logging.KeyError, err)
		return Result{Error: err.Error(), DurationMs: durationMs}, http.StatusBadRequest
	case errors.Is(err, updater.ErrUpdateInProgress):
		logger.Warn("update already running")
		return Result{Error: err.Error(), DurationMs: durationMs}, http.StatusConflict
	case err != nil:
		b.health.Record(command, err)
		logger.Info("invocation failed", logging.KeyError, err, logging.KeyDurationMs, durationMs)
		return Result{Error: err.Error(), DurationMs: durationMs}, http.StatusOK
	}

	b.health.Record(command, nil)
	logger.Debug("invocation completed", logging.KeyDurationMs, durationMs)
	return Result{OK: true, Result: value, DurationMs: durationMs}, http.StatusOK
}

func (b *Bridge) handleInvoke(w http.ResponseWriter, r *http.Request) {
	command := mux.Vars(r)["command"]

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, Result{Error: "invocations must be sent as application/json"})
		return
	}

	var args Args
	body := http.MaxBytesReader(w, r.Body, maxInvokeBody)
	if err := json.NewDecoder(body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, Result{Error: fmt.Sprintf("invalid arguments: %v", err)})
		return
	}

	result, status := b.Invoke(r.Context(), command, args)
	writeJSON(w, status, result)
}

func handleWHEPRequest(b *Bridge, ctx context.Context, args Args) (any, error) {
	url, err := args.require("url")
	if err != nil {
		return nil, err
	}
	sdp, err := args.require("sdp")
	if err != nil {
		return nil, err
	}
	return b.relay.Request(ctx, url, sdp)
}

func handleCheckStreamLive(b *Bridge, ctx context.Context, args Args) (any, error) {
	url, err := args.require("url")
	if err != nil {
		return nil, err
	}
	return b.prober.Check(ctx, url)
}

// handleDownloadAndInstallUpdate runs the update and, once the installer has
// taken over, asks the process owner to terminate. The UI gets true back if
// the response makes it out before the exit.
func handleDownloadAndInstallUpdate(b *Bridge, ctx context.Context, args Args) (any, error) {
	url, err := args.require("url")
	if err != nil {
		return nil, err
	}

	outcome, err := b.updater.Run(ctx, url)
	if err != nil {
		return nil, err
	}
	if outcome.Terminate {
		logging.FromContext(ctx, log).Info("update handed off, requesting termination", "exitCode", outcome.ExitCode)
		b.requestTermination(outcome)
	}
	return true, nil
}
