package updater

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nnfz/stretch-host/internal/events"
	"github.com/nnfz/stretch-host/internal/httputil"
	"github.com/nnfz/stretch-host/internal/logging"
)

var log = logging.L("updater")

// Config holds updater configuration
type Config struct {
	ArtifactDir   string // empty means os.TempDir()
	ArtifactName  string
	InstallerArgs []string
	HandoffGrace  time.Duration
	MaxRedirects  int
}

// Outcome tells the caller what to do once Run succeeds. Run itself never
// exits the process.
type Outcome struct {
	Terminate bool
	ExitCode  int
}

// Updater downloads an installer and hands control over to it.
type Updater struct {
	config    *Config
	emitter   events.Emitter
	newClient func(maxRedirects int) (*http.Client, error)
	launch    func(path string, args []string) (int, error)
	running   atomic.Bool
}

// New creates a new Updater. Progress is published on emitter under
// events.UpdateDownloadProgress; a nil emitter discards it.
func New(cfg *Config, emitter events.Emitter) *Updater {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Updater{
		config:    cfg,
		emitter:   emitter,
		newClient: httputil.NewClient,
		launch:    Launch,
	}
}

// ArtifactPath is the fixed location the installer is downloaded to. It is
// overwritten on every attempt.
func (u *Updater) ArtifactPath() string {
	dir := u.config.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, u.config.ArtifactName)
}

// Running reports whether an update is downloading or handing off.
func (u *Updater) Running() bool {
	return u.running.Load()
}

// Run downloads the installer from url, starts it, waits the hand-off grace
// period and returns an Outcome asking the caller to terminate the process.
// Only one Run may be active; a concurrent call gets ErrUpdateInProgress.
// After a successful hand-off the updater stays marked as running, since the
// process is expected to exit.
func (u *Updater) Run(ctx context.Context, url string) (Outcome, error) {
	if !u.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrUpdateInProgress
	}

	outcome, err := u.run(ctx, url)
	if err != nil {
		u.running.Store(false)
		return Outcome{}, err
	}
	return outcome, nil
}

func (u *Updater) run(ctx context.Context, url string) (Outcome, error) {
	logger := logging.FromContext(ctx, log)
	start := time.Now()
	logger.Info("starting update", "url", url)

	client, err := u.newClient(u.config.MaxRedirects)
	if err != nil {
		return Outcome{}, newError(ConfigError, "failed to prepare download", err)
	}

	path := u.ArtifactPath()
	err = Download(ctx, client, url, path, func(pct uint32) {
		u.emitter.Emit(events.UpdateDownloadProgress, pct)
	})
	if err != nil {
		logger.Error("update download failed", "path", path, logging.KeyError, err)
		return Outcome{}, err
	}
	logger.Info("update downloaded", "path", path, logging.KeyDurationMs, time.Since(start).Milliseconds())

	pid, err := u.launch(path, u.config.InstallerArgs)
	if err != nil {
		logger.Error("installer launch failed", "path", path, logging.KeyError, err)
		return Outcome{}, err
	}
	logger.Info("installer started", "pid", pid, "args", u.config.InstallerArgs)

	return u.handoff(logger, pid), nil
}

// handoff gives the installer time to open the artifact before the host
// vacates. The process must not touch the artifact from here on.
func (u *Updater) handoff(logger *slog.Logger, pid int) Outcome {
	time.Sleep(u.config.HandoffGrace)

	if childAlive(pid) {
		logger.Info("handing off to installer", "pid", pid)
	} else {
		logger.Warn("installer exited during hand-off grace period", "pid", pid)
	}
	return Outcome{Terminate: true, ExitCode: 0}
}
