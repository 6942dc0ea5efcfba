package util

import (
	"context"
	"testing"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShutdown() *GracefulShutdown {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewGracefulShutdown(logger, 2*time.Second)
}

func TestShutdownRunsInPriorityOrder(t *testing.T) {
	gs := newShutdown()

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	gs.Register(ShutdownResource{Name: "store", Shutdown: record("store"), Priority: 60})
	gs.Register(ShutdownResource{Name: "connection", Shutdown: record("connection"), Priority: 10})
	gs.Register(ShutdownResource{Name: "queue", Shutdown: record("queue"), Priority: 30})

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.Equal(t, []string{"connection", "queue", "store"}, order)
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	gs := newShutdown()

	var reached bool
	gs.Register(ShutdownResource{
		Name:     "broken",
		Priority: 1,
		Shutdown: func(context.Context) error {
			return errors.New("stop failed")
		},
	})
	gs.Register(ShutdownResource{
		Name:     "after",
		Priority: 2,
		Shutdown: func(context.Context) error {
			reached = true
			return nil
		},
	})

	err := gs.Shutdown(context.Background())
	assert.Error(t, err)
	assert.True(t, reached)
}

func TestShutdownRecoversFromPanic(t *testing.T) {
	gs := newShutdown()

	var reached bool
	gs.Register(ShutdownResource{
		Name:     "panicky",
		Priority: 1,
		Shutdown: func(context.Context) error {
			panic("boom")
		},
	})
	gs.Register(ShutdownResource{
		Name:     "after",
		Priority: 2,
		Shutdown: func(context.Context) error {
			reached = true
			return nil
		},
	})

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.True(t, reached)
}
