package metrics

import "fmt"

// ConstructionError is returned by any operation that builds a metric,
// tag set, or aggregator configuration that violates a naming or
// uniqueness invariant. It is always raised synchronously to the
// caller that requested the construction; it never reaches a
// background task.
type ConstructionError struct {
	// Reason is a short machine-stable label, e.g. "invalid-name",
	// "duplicate-metric", "empty-tags", "duplicate-suffix".
	Reason string
	Detail string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("metrics: construction error (%s): %s", e.Reason, e.Detail)
}

func newConstructionError(reason, format string, args ...any) *ConstructionError {
	return &ConstructionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
