package docstore

import "errors"

// ErrDocumentNotFound is returned when a document id is not in its table.
var ErrDocumentNotFound = errors.New("document not found")
