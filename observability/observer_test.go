package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/docstore/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  slog.Level
	}{
		{observability.LevelVerbose, slog.LevelDebug},
		{observability.LevelInfo, slog.LevelInfo},
		{observability.LevelWarning, slog.LevelWarn},
		{observability.LevelError, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.want {
				t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNewEvent_Timestamp(t *testing.T) {
	e := observability.NewEvent("txn.begin", observability.LevelInfo, "txn.Begin", nil)

	if e.Timestamp.IsZero() {
		t.Error("NewEvent() should stamp a non-zero timestamp")
	}
	if e.Type != "txn.begin" {
		t.Errorf("got Type %q, want %q", e.Type, "txn.begin")
	}
}

func TestMultiObserver_FanOutAndNilFiltering(t *testing.T) {
	var r1, r2 observability.Recorder

	multi := observability.NewMultiObserver(nil, &r1, nil, &r2)
	multi.OnEvent(context.Background(), observability.NewEvent("cache.flush", observability.LevelInfo, "test", nil))

	if r1.Count("cache.flush") != 1 {
		t.Errorf("observer 1 received %d events, want 1", r1.Count("cache.flush"))
	}
	if r2.Count("cache.flush") != 1 {
		t.Errorf("observer 2 received %d events, want 1", r2.Count("cache.flush"))
	}
}

func TestRecorder_TypesInOrder(t *testing.T) {
	var r observability.Recorder
	ctx := context.Background()

	for _, typ := range []observability.EventType{"a", "b", "a"} {
		r.OnEvent(ctx, observability.Event{Type: typ})
	}

	got := r.Types()
	want := []observability.EventType{"a", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %d types, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Types()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if r.Count("a") != 2 {
		t.Errorf("Count(a) = %d, want 2", r.Count("a"))
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	var r observability.Recorder
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			r.OnEvent(context.Background(), observability.Event{Type: "x"})
		}()
	}
	wg.Wait()

	if len(r.Events()) != n {
		t.Errorf("got %d events, want %d", len(r.Events()), n)
	}
}

func TestSlogObserver_LevelMapping(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "info at warn handler", level: observability.LevelInfo, minLevel: slog.LevelWarn, expectLog: false},
		{name: "error at error handler", level: observability.LevelError, minLevel: slog.LevelError, expectLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.minLevel}))

			observability.NewSlogObserver(logger).OnEvent(context.Background(),
				observability.NewEvent("test.event", tt.level, "test", nil))

			if hasOutput := buf.Len() > 0; hasOutput != tt.expectLog {
				t.Errorf("log output = %v, want %v (buf: %q)", hasOutput, tt.expectLog, buf.String())
			}
		})
	}
}

func TestSlogObserver_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	observability.NewSlogObserver(logger).OnEvent(context.Background(),
		observability.NewEvent("txn.commit", observability.LevelInfo, "txn.Commit", map[string]any{"tx_id": "abc"}))

	output := buf.String()
	for _, want := range []string{"txn.commit", "source=txn.Commit", "tx_id=abc"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestSlogObserver_AttributeOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	observability.NewSlogObserver(logger).OnEvent(context.Background(),
		observability.NewEvent("txn.backup", observability.LevelInfo, "txn.Backup", map[string]any{
			"tables": 2, "path": "b.json", "db_id": "x",
		}))

	output := buf.String()
	source := strings.Index(output, "source=")
	dbID := strings.Index(output, "db_id=")
	path := strings.Index(output, "path=")
	tables := strings.Index(output, "tables=")
	if !(source < dbID && dbID < path && path < tables) {
		t.Errorf("attributes out of order: %s", output)
	}
}

func TestNamed(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "noop", key: "noop"},
		{name: "slog", key: "slog"},
		{name: "empty selects slog", key: ""},
		{name: "unknown fails", key: "otlp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := observability.Named(tt.key, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Named(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if !tt.wantErr && obs == nil {
				t.Errorf("Named(%q) returned nil observer", tt.key)
			}
		})
	}
}
