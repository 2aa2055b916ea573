package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopRunsRegisteredTasksOnTheirOwnCadence(t *testing.T) {
	var count int32
	l := New(nil)
	l.Register(Task{
		Name:     "tick-fast",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
	assert.Equal(t, StateStopped, l.State())
}

func TestLoopSurvivesTaskError(t *testing.T) {
	var count int32
	l := New(nil)
	l.Register(Task{
		Name:     "always-fails",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return assert.AnError
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}
