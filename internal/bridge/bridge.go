// Package bridge exposes the host operations to the UI over a loopback HTTP
// server: POST /invoke/{command} for calls, GET /events for the event
// WebSocket and GET /health for diagnostics.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/nnfz/stretch-host/internal/events"
	"github.com/nnfz/stretch-host/internal/health"
	"github.com/nnfz/stretch-host/internal/logging"
	"github.com/nnfz/stretch-host/internal/updater"
)

var log = logging.L("bridge")

const maxInvokeBody = 1 << 20

// Updater runs the self-update pipeline.
type Updater interface {
	Run(ctx context.Context, url string) (updater.Outcome, error)
	Running() bool
}

// Relay forwards WHEP offers.
type Relay interface {
	Request(ctx context.Context, url, sdp string) (string, error)
}

// Prober checks stream liveness.
type Prober interface {
	Check(ctx context.Context, url string) (bool, error)
}

// TokenHeader carries the bridge token on invocations. WebSocket clients,
// which cannot set headers from a browser, pass it as the token query
// parameter instead.
const TokenHeader = "X-Stretch-Token"

// Config holds bridge configuration
type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	// Token, when set, must accompany every invocation and event connection.
	Token string
}

// Bridge dispatches UI invocations to the host operations.
type Bridge struct {
	config       Config
	updater      Updater
	relay        Relay
	prober       Prober
	hub          *events.Hub
	health       *health.Monitor
	terminations chan updater.Outcome
	server       *http.Server
}

// New creates a bridge. hub must be the emitter the updater publishes to so
// UI listeners on /events receive its progress.
func New(cfg Config, u Updater, relay Relay, prober Prober, hub *events.Hub, monitor *health.Monitor) *Bridge {
	b := &Bridge{
		config:       cfg,
		updater:      u,
		relay:        relay,
		prober:       prober,
		hub:          hub,
		health:       monitor,
		terminations: make(chan updater.Outcome, 1),
	}
	b.server = &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	for name := range handlerRegistry {
		monitor.Update(name, health.Healthy, "")
	}
	return b
}

// Terminations delivers the outcome of a completed update hand-off. The
// receiver is expected to shut the bridge down and exit the process.
func (b *Bridge) Terminations() <-chan updater.Outcome {
	return b.terminations
}

// AllowOrigin reports whether a browser origin may call the bridge. Requests
// without an Origin header come from non-browser clients and are allowed.
func (b *Bridge) AllowOrigin(origin string) bool {
	return origin == "" || slices.Contains(b.config.AllowedOrigins, origin)
}

// Handler returns the bridge's HTTP routes wrapped in the CORS policy.
func (b *Bridge) Handler() http.Handler {
	r := mux.NewRouter()

	invoke := r.PathPrefix("/invoke").Subrouter()
	invoke.Use(b.requireOrigin, b.requireToken)
	invoke.HandleFunc("/{command}", b.handleInvoke).Methods(http.MethodPost)

	r.Handle("/events", b.requireToken(b.hub)).Methods(http.MethodGet)
	r.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)

	// cors only decorates responses; requireOrigin is what refuses callers.
	return cors.New(cors.Options{
		AllowedOrigins: b.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", TokenHeader},
	}).Handler(r)
}

// requireOrigin rejects browser requests from origins outside the allow list
// before any command runs.
func (b *Bridge) requireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !b.AllowOrigin(origin) {
			log.Warn("rejected invocation from foreign origin", "origin", origin, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, Result{Error: "origin not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken enforces the configured bridge token. With no token
// configured every request passes.
func (b *Bridge) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(TokenHeader)
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(b.config.Token)) != 1 {
			log.Warn("rejected request without valid bridge token", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, Result{Error: "invalid bridge token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve accepts bridge connections on ln until Shutdown is called.
func (b *Bridge) Serve(ln net.Listener) error {
	log.Info("bridge listening", "addr", ln.Addr().String())

	err := b.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address and serves.
func (b *Bridge) ListenAndServe() error {
	ln, err := net.Listen("tcp", b.config.ListenAddr)
	if err != nil {
		return err
	}
	return b.Serve(ln)
}

// Shutdown stops accepting invocations, waits for in-flight responses up to
// ctx's deadline and disconnects event listeners.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.hub.Close()
	return b.server.Shutdown(ctx)
}

func (b *Bridge) requestTermination(outcome updater.Outcome) {
	select {
	case b.terminations <- outcome:
	default:
	}
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := b.health.Summary()
	summary["eventListeners"] = b.hub.Listeners()
	summary["updateRunning"] = b.updater.Running()
	if stats, err := health.CurrentProcess(); err == nil {
		summary["process"] = stats
	} else {
		log.Debug("process stats unavailable", logging.KeyError, err)
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write response", logging.KeyError, err)
	}
}
