package txn

import "github.com/tailored-agentic-units/docstore/observability"

// Transaction event types.
const (
	EventBegin     observability.EventType = "txn.begin"
	EventCommit    observability.EventType = "txn.commit"
	EventRollback  observability.EventType = "txn.rollback"
	EventBackup    observability.EventType = "txn.backup"
	EventRestore   observability.EventType = "txn.restore"
	EventRecover   observability.EventType = "txn.recover"
	EventCloseOpen observability.EventType = "txn.close.open"
	EventError     observability.EventType = "txn.error"
)
