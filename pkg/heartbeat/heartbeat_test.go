package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats(t *testing.T) {
	var s Stats
	assert.Equal(t, time.Duration(0), s.Mean())
	assert.Equal(t, time.Duration(0), s.StdDev())

	for _, d := range []time.Duration{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Record(d * time.Second)
	}
	s.Fail()

	assert.Equal(t, 8, s.Count())
	assert.Equal(t, 1, s.Failures())
	assert.Equal(t, 5*time.Second, s.Mean())
	assert.Equal(t, 2*time.Second, s.StdDev())

	sum := s.Summary()
	assert.Equal(t, Summary{Calls: 8, Failures: 1, Mean: 5 * time.Second, StdDev: 2 * time.Second}, sum)
	assert.Equal(t, "calls=8 failures=1 mean=5s std_dev=2s", sum.String())
}

func TestStart_ProbesImmediatelyAndOnTick(t *testing.T) {
	var calls atomic.Int32
	var s Stats
	stop := Start(context.Background(), 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, &s, nil)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no probes after stop")
	assert.Equal(t, int(n), s.Count())
}

func TestStart_CountsFailures(t *testing.T) {
	var s Stats
	stop := Start(context.Background(), time.Hour, func(context.Context) error {
		return errors.New("connection refused")
	}, &s, nil)

	assert.Eventually(t, func() bool { return s.Failures() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, 0, s.Count())
}

func TestStart_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var s Stats
	stop := Start(ctx, time.Millisecond, func(context.Context) error { return nil }, &s, nil)
	cancel()

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after context cancel")
	}
}
