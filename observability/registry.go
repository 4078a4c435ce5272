package observability

import (
	"fmt"
	"log/slog"
)

// Observer names accepted by Named.
const (
	ObserverNoOp = "noop"
	ObserverSlog = "slog"
)

// Named resolves an observer by configuration name. The slog observer emits
// to logger, or to slog.Default() when logger is nil. An empty name selects
// slog.
func Named(name string, logger *slog.Logger) (Observer, error) {
	switch name {
	case ObserverNoOp:
		return NoOpObserver{}, nil
	case "", ObserverSlog:
		if logger == nil {
			logger = slog.Default()
		}
		return NewSlogObserver(logger), nil
	default:
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
}
