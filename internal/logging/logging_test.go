package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("updater")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("download finished", "bytes", 42)

	out := buf.String()
	if !strings.Contains(out, `msg="download finished"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=updater") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "bytes=42") {
		t.Fatalf("expected bytes field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("probe")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	L("bridge").Debug("invoke", KeyCommand, "check_stream_live")

	out := buf.String()
	if !strings.Contains(out, `"component":"bridge"`) || !strings.Contains(out, `"command":"check_stream_live"`) {
		t.Fatalf("expected JSON fields, got: %s", out)
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []LogEntry
	names   []string
}

func (s *recordingSink) Emit(name string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	if e, ok := payload.(LogEntry); ok {
		s.entries = append(s.entries, e)
	}
}

func TestForwardingHandlerIncludesLoggerAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := &forwardingHandler{
		base: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}

	forwarder := &Forwarder{
		buffer:   make(chan LogEntry, 1),
		minLevel: slog.LevelDebug,
	}

	forwarderMu.Lock()
	prev := globalForwarder
	globalForwarder = forwarder
	forwarderMu.Unlock()
	t.Cleanup(func() {
		forwarderMu.Lock()
		globalForwarder = prev
		forwarderMu.Unlock()
	})

	logger := slog.New(handler).With(
		slog.String(KeyComponent, "whep"),
		slog.String(KeyInvocationID, "inv-1"),
	)
	logger.Warn("relay failed", slog.Int("status", 502))

	select {
	case entry := <-forwarder.buffer:
		if entry.Component != "whep" {
			t.Fatalf("expected component from logger attrs, got %q", entry.Component)
		}
		if got := entry.Fields[KeyInvocationID]; got != "inv-1" {
			t.Fatalf("expected invocation field, got %#v", got)
		}
		if got := entry.Fields["status"]; got != int64(502) {
			t.Fatalf("expected status field, got %#v", got)
		}
	default:
		t.Fatal("expected forwarded log entry")
	}
}

func TestForwarderDeliversToSinkAndRespectsLevel(t *testing.T) {
	sink := &recordingSink{}

	var buf bytes.Buffer
	Init("text", "debug", &buf)
	StartForwarder(sink, "warn")

	logger := L("updater")
	logger.Info("not forwarded")
	logger.Error("forwarded", KeyError, "boom")

	StopForwarder()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 forwarded entry, got %d", len(sink.entries))
	}
	if sink.names[0] != ForwardEvent {
		t.Fatalf("expected event %q, got %q", ForwardEvent, sink.names[0])
	}
	if sink.entries[0].Message != "forwarded" || sink.entries[0].Component != "updater" {
		t.Fatalf("unexpected entry: %+v", sink.entries[0])
	}
}

func TestForwarderEnqueueDropsWhenFull(t *testing.T) {
	f := &Forwarder{buffer: make(chan LogEntry, 1)}
	f.Enqueue(LogEntry{Message: "a", Timestamp: time.Now()})
	f.Enqueue(LogEntry{Message: "b", Timestamp: time.Now()})

	if got := f.droppedCount.Load(); got != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", got)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()
	rw.maxSize = 16

	for i := 0; i < 3; i++ {
		if _, err := rw.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0123456789\n" {
		t.Fatalf("unexpected current log content: %q", data)
	}
}

func TestOpenOutputWithoutFile(t *testing.T) {
	w, closer, err := OpenOutput("")
	if err != nil {
		t.Fatal(err)
	}
	if w != os.Stderr || closer != nil {
		t.Fatal("expected bare stderr output without a closer")
	}
}
