package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

func TestWorker_ShouldRequeueJob(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name    string
		err     error
		requeue bool
	}{
		{
			name:    "already claimed jobs are not requeued",
			err:     fmt.Errorf("claim: %w", domain.ErrJobAlreadyClaimed),
			requeue: false,
		},
		{
			name:    "retryable infrastructure errors are requeued",
			err:     domain.NewRetryableError(errors.New("db connection reset")),
			requeue: true,
		},
		{
			name:    "wrapped retryable errors are still recognized",
			err:     fmt.Errorf("pipeline: %w", domain.NewRetryableError(errors.New("timeout"))),
			requeue: true,
		},
		{
			name:    "plain errors are dropped",
			err:     errors.New("something unexpected"),
			requeue: false,
		},
		{
			name:    "invalid transitions are dropped",
			err:     fmt.Errorf("transition: %w", domain.ErrInvalidTransition),
			requeue: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.requeue, w.shouldRequeueJob(tt.err))
		})
	}
}
