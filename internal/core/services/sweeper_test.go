package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poyrazK/cardgate/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSweeper_TriggerSweep(t *testing.T) {
	svc := &testutil.StubService{
		ExpireStaleFn: func(context.Context) (int, error) { return 4, nil },
	}
	s := NewSweeper(svc, time.Hour, nil)

	assert.Equal(t, 4, s.TriggerSweep(context.Background()))
	assert.Equal(t, int64(1), s.Runs())
}

func TestSweeper_ErrorIsLoggedNotFatal(t *testing.T) {
	svc := &testutil.StubService{
		ExpireStaleFn: func(context.Context) (int, error) { return 1, errors.New("partial failure") },
	}
	s := NewSweeper(svc, time.Hour, nil)

	assert.Equal(t, 1, s.TriggerSweep(context.Background()))
}

func TestSweeper_StartLoop(t *testing.T) {
	svc := &testutil.StubService{}
	s := NewSweeper(svc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return svc.SweepCalls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
