package embedjobs

import (
	"context"
	"errors"
	"net"
	"runtime/debug"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	openai "github.com/sashabaranov/go-openai"

	"github.com/graphmem/graphmem/pkg/apperror"
)

// Category classifies a worker failure and drives the retry policy
type Category string

const (
	// CategoryTransient errors retry with backoff up to max_attempts
	CategoryTransient Category = "transient"
	// CategoryPermanent errors are terminal on first occurrence
	CategoryPermanent Category = "permanent"
	// CategoryCritical errors stop the worker
	CategoryCritical Category = "critical"
)

// Classify maps an error to its retry category. Unknown errors are treated
// as permanent so nothing retries forever.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 401, 403, 404:
			return CategoryPermanent
		default:
			return CategoryTransient
		}
	}

	switch apperror.CodeOf(err) {
	case apperror.CodeEntityNotFound, apperror.CodeEntityNotCurrent, apperror.CodeInvalidParams:
		return CategoryPermanent
	case apperror.CodeInvariantViolation:
		return CategoryCritical
	}

	if neo4j.IsRetryable(err) {
		return CategoryTransient
	}
	var usageErr *neo4j.UsageError
	if errors.As(err, &usageErr) {
		return CategoryCritical
	}

	return CategoryPermanent
}

// FailureContext carries what Fail persists onto the job row
type FailureContext struct {
	Message  string
	Category Category
	Stack    string
}

// NewFailureContext classifies err and captures the current stack
func NewFailureContext(err error) FailureContext {
	return FailureContext{
		Message:  err.Error(),
		Category: Classify(err),
		Stack:    string(debug.Stack()),
	}
}

// Terminal reports whether this failure should never be retried
func (f FailureContext) Terminal() bool {
	return f.Category != CategoryTransient
}
