package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobFunc func(ctx context.Context) error

func (f jobFunc) RediscoverAll(ctx context.Context) error { return f(ctx) }

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("every now and then", jobFunc(func(context.Context) error { return nil }))
	assert.Error(t, err)
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	ran := make(chan struct{}, 8)
	s, err := NewScheduler("@every 1s", jobFunc(func(context.Context) error {
		ran <- struct{}{}
		return errors.New("warehouse unreachable") // logged, does not stop the schedule
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
