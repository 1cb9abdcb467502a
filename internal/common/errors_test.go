package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), ExitFailure},
		{"invalid input", fmt.Errorf("parse: %w", ErrInvalidInput), ExitUsage},
		{"validation", fmt.Errorf("%w: TIER_CONCURRENCY", ErrValidation), ExitUsage},
		{"unsupported", ErrUnsupportedFile, ExitUsage},
		{"not found", &UserError{Op: "export", Err: ErrNotFound}, ExitNotFound},
		{"database", fmt.Errorf("list: %w", ErrDatabase), ExitStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUserErrorMessage(t *testing.T) {
	err := &UserError{Op: "list", Err: fmt.Errorf("%w: unknown status %q", ErrInvalidInput, "bogus")}
	assert.Equal(t, `list: invalid input: unknown status "bogus"`, err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "boom", (&UserError{Err: errors.New("boom")}).Error())
}
