package model

import "errors"

// Error kinds shared by the store, the query layer and the calendar engine.
// Callers match them with errors.Is; concrete errors wrap one of these.
var (
	// ErrRemoteUnavailable means the document store or a provider could not
	// be reached. The cache stays at its last known good state.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrIndexMissing means a filtered and ordered query needs a composite
	// index the backend has not built. The query layer absorbs it.
	ErrIndexMissing = errors.New("missing composite index")

	// ErrNotFound means the entity vanished between read and write.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means the user refused calendar or notification access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation means the input was rejected before any remote call.
	ErrValidation = errors.New("validation failed")

	// ErrPartialReconciliation means one or more tasks failed during a
	// calendar reconciliation pass.
	ErrPartialReconciliation = errors.New("partial reconciliation failure")
)
