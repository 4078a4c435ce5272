package docstore

import "github.com/tailored-agentic-units/docstore/observability"

const (
	EventOpen      observability.EventType = "docstore.open"
	EventClose     observability.EventType = "docstore.close"
	EventTableDrop observability.EventType = "docstore.table.drop"
)
