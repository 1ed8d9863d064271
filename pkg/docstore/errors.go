package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alaap-nair/studysync/pkg/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// kindError attaches one of the model error kinds to a backend error while
// keeping the original reachable through errors.Is and errors.As.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// WithKind wraps err so that errors.Is(err, kind) holds.
func WithKind(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return &kindError{kind: kind, err: err}
}

// Classify maps a backend error onto the model error kinds using the gRPC
// status code carried by Firestore errors. Errors already carrying a kind
// and unknown codes pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		model.ErrIndexMissing, model.ErrNotFound, model.ErrPermissionDenied,
		model.ErrRemoteUnavailable, model.ErrValidation,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WithKind(model.ErrRemoteUnavailable, err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return WithKind(model.ErrNotFound, err)
	case codes.FailedPrecondition:
		if looksLikeIndexMessage(err.Error()) {
			return WithKind(model.ErrIndexMissing, err)
		}
	case codes.PermissionDenied, codes.Unauthenticated:
		return WithKind(model.ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return WithKind(model.ErrRemoteUnavailable, err)
	case codes.InvalidArgument:
		return WithKind(model.ErrValidation, err)
	}
	return err
}

// indexMessageHints are fragments of the messages backends use when a query
// needs a composite index. FailedPrecondition alone also covers failed
// transactions and preconditions, so one of these must be present too.
var indexMessageHints = []string{
	"requires an index",
	"requires a composite index",
	"no matching index",
}

func looksLikeIndexMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, hint := range indexMessageHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsIndexMissing reports whether err means a composite index is missing:
// either the error kind, or a FailedPrecondition status whose message names
// an index. Errors without a status fall back to message matching.
func IsIndexMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrIndexMissing) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.FailedPrecondition && looksLikeIndexMessage(s.Message())
	}
	return looksLikeIndexMessage(err.Error())
}

// IndexMissingError builds the error an in-memory store returns for a query
// that has no composite index, phrased like the hosted backend's message.
func IndexMissingError(collection string, fields ...string) error {
	return fmt.Errorf("%w: the query requires an index on %s (%s)",
		model.ErrIndexMissing, collection, strings.Join(fields, ", "))
}
