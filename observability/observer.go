// Package observability carries structured events from the storage stack to
// whatever sink the embedding application chooses. Subsystems never log
// directly; they emit Events to an injected Observer. Level values follow
// OpenTelemetry SeverityNumbers so events forward to OTel collectors as is.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level is the severity of an Event, on the OTel SeverityNumber scale.
type Level int

const (
	LevelVerbose Level = 5  // Per-operation traffic: reads, writes, flushes, remote calls.
	LevelInfo    Level = 9  // Lifecycle: open, close, commit, rollback, backup, restore.
	LevelWarning Level = 13 // Data at risk: shadow recovery, close with a transaction open.
	LevelError   Level = 17 // A storage operation failed.
)

// String returns the severity text, e.g. "WARN" for LevelWarning.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel returns the slog.Level a SlogObserver logs the event at.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event, namespaced by subsystem
// (e.g. "txn.begin", "cache.flush").
type EventType string

// Event records one thing that happened to a store. Source names the
// emitting function ("txn.Begin") and Data carries attributes such as paths,
// table counts, or the error text.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// NewEvent stamps an Event with the current time.
func NewEvent(typ EventType, level Level, source string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// Observer receives events from the storage stack. Implementations must be
// safe for concurrent use and must not call back into the emitting store.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}
