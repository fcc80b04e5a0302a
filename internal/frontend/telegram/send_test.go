package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitSendReturnsResult(t *testing.T) {
	id, err := awaitSend(context.Background(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestAwaitSendPropagatesError(t *testing.T) {
	sendErr := errors.New("bad request")
	_, err := awaitSend(context.Background(), func() (int, error) {
		return 0, sendErr
	})
	assert.ErrorIs(t, err, sendErr)
}

func TestAwaitSendAbandonsStalledSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := awaitSend(ctx, func() (int, error) {
		<-block
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
