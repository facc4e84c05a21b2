package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ForwardEvent is the event name under which log entries reach the UI.
const ForwardEvent = "host-log"

const defaultForwardBuffer = 256

// Sink receives forwarded log entries. Emit must not block.
type Sink interface {
	Emit(name string, payload any)
}

// LogEntry is a single log record as delivered to the UI.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Forwarder buffers log entries and hands them to a Sink from its own
// goroutine, so logging never waits on a slow UI connection.
type Forwarder struct {
	sink         Sink
	buffer       chan LogEntry
	stopChan     chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
	minLevel     slog.Level
	mu           sync.RWMutex // protects minLevel
	droppedCount atomic.Int64
}

var (
	globalForwarder *Forwarder
	forwarderMu     sync.RWMutex
)

// NewForwarder creates a forwarder delivering entries at or above minLevel.
func NewForwarder(sink Sink, minLevel string) *Forwarder {
	return &Forwarder{
		sink:     sink,
		buffer:   make(chan LogEntry, defaultForwardBuffer),
		stopChan: make(chan struct{}),
		minLevel: parseLevel(minLevel),
	}
}

// StartForwarder attaches a process-wide forwarder, replacing any previous one.
func StartForwarder(sink Sink, minLevel string) {
	forwarderMu.Lock()
	defer forwarderMu.Unlock()

	if globalForwarder != nil {
		globalForwarder.Stop()
	}

	globalForwarder = NewForwarder(sink, minLevel)
	globalForwarder.Start()
}

// StopForwarder detaches and stops the process-wide forwarder.
func StopForwarder() {
	forwarderMu.Lock()
	defer forwarderMu.Unlock()

	if globalForwarder != nil {
		globalForwarder.Stop()
		globalForwarder = nil
	}
}

// Start begins the background delivery loop.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.forwardLoop()
}

// Stop flushes buffered entries and stops the loop. Safe to call multiple times.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
	f.wg.Wait()
}

// Enqueue adds an entry to the buffer. Non-blocking; drops if the buffer is full.
func (f *Forwarder) Enqueue(entry LogEntry) {
	select {
	case f.buffer <- entry:
	default:
		dropped := f.droppedCount.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			fmt.Fprintf(os.Stderr, "[log-forwarder] buffer full, dropped %d log entries\n", dropped)
		}
	}
}

// SetMinLevel adjusts the minimum forwarded level.
func (f *Forwarder) SetMinLevel(level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minLevel = parseLevel(level)
}

// ShouldForward reports whether level meets the minimum threshold.
func (f *Forwarder) ShouldForward(level slog.Level) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return level >= f.minLevel
}

func (f *Forwarder) forwardLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopChan:
			for {
				select {
				case entry := <-f.buffer:
					f.sink.Emit(ForwardEvent, entry)
				default:
					return
				}
			}
		case entry := <-f.buffer:
			f.sink.Emit(ForwardEvent, entry)
		}
	}
}

// forwardingHandler wraps a base slog.Handler and also offers every record to
// the attached forwarder.
type forwardingHandler struct {
	base  slog.Handler
	attrs []slog.Attr
}

func (h *forwardingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *forwardingHandler) Handle(ctx context.Context, record slog.Record) error {
	forwarderMu.RLock()
	forwarder := globalForwarder
	forwarderMu.RUnlock()

	if forwarder != nil && forwarder.ShouldForward(record.Level) {
		fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			fields[a.Key] = a.Value.Any()
		}
		record.Attrs(func(a slog.Attr) bool {
			fields[a.Key] = a.Value.Any()
			return true
		})

		component := "unknown"
		if c, ok := fields[KeyComponent].(string); ok {
			component = c
			delete(fields, KeyComponent)
		}

		forwarder.Enqueue(LogEntry{
			Timestamp: record.Time,
			Level:     record.Level.String(),
			Component: component,
			Message:   record.Message,
			Fields:    fields,
		})
	}

	return h.base.Handle(ctx, record)
}

func (h *forwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &forwardingHandler{base: h.base.WithAttrs(attrs), attrs: merged}
}

func (h *forwardingHandler) WithGroup(name string) slog.Handler {
	return &forwardingHandler{base: h.base.WithGroup(name), attrs: h.attrs}
}
