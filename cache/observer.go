package cache

import "github.com/tailored-agentic-units/docstore/observability"

// Cache event types.
const (
	EventFlush      observability.EventType = "cache.flush"
	EventInvalidate observability.EventType = "cache.invalidate"
)
