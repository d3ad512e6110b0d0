package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := classify(ctx, errors.New("request canceled"))
	assert.ErrorIs(t, err, errs.ErrLLMTimeout)

	err = classify(context.Background(), context.DeadlineExceeded)
	assert.ErrorIs(t, err, errs.ErrLLMTimeout)

	err = classify(context.Background(), errors.New("503 service unavailable"))
	assert.ErrorIs(t, err, errs.ErrLLMUnavailable)
	assert.NotErrorIs(t, err, errs.ErrLLMTimeout)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
}
