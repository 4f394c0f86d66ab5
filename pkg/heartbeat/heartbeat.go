// Package heartbeat periodically probes a running server and keeps timing
// statistics for the probes.
package heartbeat

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats accumulates probe latencies. It is safe for concurrent use.
type Stats struct {
	mu       sync.Mutex
	samples  []time.Duration
	failures int
}

// Record adds a successful probe latency.
func (s *Stats) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, d)
}

// Fail counts a failed probe. Failed probes are not timed.
func (s *Stats) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

// Count returns the number of successful probes.
func (s *Stats) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *Stats) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Mean returns the mean latency, or 0 with no samples.
func (s *Stats) Mean() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mean()
}

func (s *Stats) mean() time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	var sum float64
	for _, d := range s.samples {
		sum += float64(d)
	}
	return time.Duration(sum / float64(len(s.samples)))
}

// StdDev returns the population standard deviation of the latencies.
func (s *Stats) StdDev() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0
	}
	mean := float64(s.mean())
	var sq float64
	for _, d := range s.samples {
		diff := float64(d) - mean
		sq += diff * diff
	}
	return time.Duration(math.Sqrt(sq / float64(len(s.samples))))
}

// Summary is a point-in-time view of Stats.
type Summary struct {
	Calls    int           `json:"calls"`
	Failures int           `json:"failures"`
	Mean     time.Duration `json:"mean"`
	StdDev   time.Duration `json:"std_dev"`
}

func (s *Stats) Summary() Summary {
	return Summary{
		Calls:    s.Count(),
		Failures: s.Failures(),
		Mean:     s.Mean(),
		StdDev:   s.StdDev(),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("calls=%d failures=%d mean=%s std_dev=%s", s.Calls, s.Failures, s.Mean, s.StdDev)
}

// Probe is one heartbeat call.
type Probe func(ctx context.Context) error

// Start runs probe immediately and then every interval until ctx is done or
// the returned stop func is called. stop waits for an in-flight probe.
func Start(ctx context.Context, interval time.Duration, probe Probe, stats *Stats, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := time.NewTicker(interval)
	stopped := make(chan struct{})

	beat := func() {
		start := time.Now()
		if err := probe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			stats.Fail()
			logger.Error("Heartbeat probe failed", zap.Error(err))
			return
		}
		elapsed := time.Since(start)
		stats.Record(elapsed)
		sum := stats.Summary()
		logger.Info("Heartbeat",
			zap.Duration("elapsed", elapsed),
			zap.Int("calls", sum.Calls),
			zap.Int("failures", sum.Failures),
			zap.Duration("mean", sum.Mean),
			zap.Duration("std_dev", sum.StdDev))
	}

	go func() {
		defer close(stopped)
		beat()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				beat()
			}
		}
	}()

	return func() {
		t.Stop()
		cancel()
		<-stopped
	}
}
