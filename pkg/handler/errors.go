package handler

import (
	"fmt"

	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// QueueFullError is raised synchronously from SerializeMetric when
// accepting a reading would push a payload class's buffered item count
// past maxPayloadCount. The payload class stops accepting further
// writes until its next Flush, which resets the item count whether or
// not the send succeeds.
type QueueFullError struct {
	HandlerName string
	Class       metrics.PayloadClass
	Count       int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("handler: payload class %s is full at %d items", e.Class, e.Count)
}

// TransportError wraps one failed send attempt for a payload class;
// senders return one per failed attempt, and Flush passes each to the
// exception handler and returns the last one once retries are
// exhausted. Cause is
// the underlying HTTP/socket error or, for a non-2xx HTTP response, nil
// (StatusCode and Body carry the detail instead).
type TransportError struct {
	Class      metrics.PayloadClass
	StatusCode int
	Body       string
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handler: transport error sending %s: %v", e.Class, e.Cause)
	}
	return fmt.Sprintf("handler: transport error sending %s: status %d: %s", e.Class, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// skipExceptionHandler marks a TransportError as a known transient race
// (e.g. a UDP socket address-family mismatch right after an endpoint
// change) that Flush retries without surfacing to onException.
type skipExceptionHandler struct{ *TransportError }

func (skipExceptionHandler) SkipExceptionHandler() bool { return true }

func newSkippableTransportError(class metrics.PayloadClass, cause error) error {
	return skipExceptionHandler{&TransportError{Class: class, Cause: cause}}
}

// wantsSkipExceptionHandler reports whether err identifies itself as a
// transient race that should be retried silently.
func wantsSkipExceptionHandler(err error) bool {
	type skippable interface{ SkipExceptionHandler() bool }
	s, ok := err.(skippable)
	return ok && s.SkipExceptionHandler()
}

// NewSkippableTransportError wraps cause as a transient transport
// error that Flush retries without invoking the user's exception
// handler. Exported so non-HTTP senders in sibling packages (e.g. the
// UDP statsd sender recovering from an address-family race) can
// produce one without reimplementing the marker interface.
func NewSkippableTransportError(class metrics.PayloadClass, cause error) error {
	return newSkippableTransportError(class, cause)
}

// SerializationError marks a single reading or metadata record as
// unserializable (e.g. a Bosun timestamp outside the accepted range).
// It is fatal only for the offending record; the handler skips it and
// continues with the rest of the batch.
type SerializationError struct {
	Reason string
	Detail string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("handler: serialization error (%s): %s", e.Reason, e.Detail)
}

func newSerializationError(reason, format string, args ...any) *SerializationError {
	return &SerializationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// NewSerializationError builds a SerializationError; exported so
// concrete backend serializers (in sibling packages) can raise one
// from SerializeMetric/SerializeMetadata.
func NewSerializationError(reason, format string, args ...any) *SerializationError {
	return newSerializationError(reason, format, args...)
}
