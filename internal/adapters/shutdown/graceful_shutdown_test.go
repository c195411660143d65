package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulShutdown_RunsStepsInOrder(t *testing.T) {
	gsm := NewGracefulShutdownManager(nil)

	var order []string
	for _, name := range []string{"grpc", "http", "manager"} {
		gsm.Add(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, gsm.InitiateGracefulShutdown(context.Background()))
	assert.Equal(t, []string{"grpc", "http", "manager"}, order)
}

func TestGracefulShutdown_ContinuesAfterFailure(t *testing.T) {
	gsm := NewGracefulShutdownManager(nil)
	ran := false

	gsm.Add("http", func(context.Context) error { return errors.New("listener stuck") })
	gsm.Add("manager", func(context.Context) error {
		ran = true
		return nil
	})

	err := gsm.InitiateGracefulShutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http: listener stuck")
	assert.True(t, ran)
}

func TestGracefulShutdown_DrainTimeout(t *testing.T) {
	gsm := NewGracefulShutdownManager(nil)
	gsm.SetDrainTimeout(10 * time.Millisecond)

	gsm.Add("manager", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := gsm.InitiateGracefulShutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
