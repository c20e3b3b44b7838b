package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without internal",
			err:  New(CodeEntityNotFound, "entity not found"),
			want: "entity_not_found: entity not found",
		},
		{
			name: "with internal",
			err:  New(CodeInvariantViolation, "boom").WithInternal(errors.New("db down")),
			want: "invariant_violation: boom (db down)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrEntityNotFound.WithMessage("no such entity: Alice"))

	assert.True(t, errors.Is(wrapped, ErrEntityNotFound))
	assert.False(t, errors.Is(wrapped, ErrEntityNotCurrent))
}

func TestWithCopiesDoNotMutate(t *testing.T) {
	base := ErrEntityNotCurrent
	copied := base.WithDetails(map[string]any{"name": "Bob"})

	assert.Nil(t, base.Details)
	assert.Equal(t, "Bob", copied.Details["name"])
	assert.Equal(t, base.Code, copied.Code)
}

func TestSemanticUnavailable(t *testing.T) {
	err := NewSemanticUnavailable("no_embeddings_available")

	assert.Equal(t, CodeSemanticUnavailable, err.Code)
	assert.Equal(t, "no_embeddings_available", err.Details["fallbackReason"])
	assert.Contains(t, err.Message, "no_embeddings_available")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeEntityNotFound, CodeOf(fmt.Errorf("x: %w", ErrEntityNotFound)))
	assert.Equal(t, "internal_error", CodeOf(errors.New("plain")))
}
