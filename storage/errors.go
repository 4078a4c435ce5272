package storage

import "errors"

// Sentinel errors for storage and transaction operations.
var (
	ErrIO               = errors.New("storage i/o failure")
	ErrNotFound         = errors.New("not found")
	ErrMalformedState   = errors.New("malformed state")
	ErrTransactionOpen  = errors.New("transaction already open")
	ErrNoTransaction    = errors.New("no transaction open")
	ErrNotTransactional = errors.New("storage does not support transactions")
	ErrClosed           = errors.New("storage closed")
)
