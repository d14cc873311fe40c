package timer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/groutine"
)

// UnderflowSink receives the periodic underflow interrupt
type UnderflowSink interface {
	OnTimerUnderflow()
}

// LETimer is the free running low-energy timer. Every period it raises an
// underflow; the underflow count doubles as the coarse wall clock.
type LETimer struct {
	period time.Duration
	sink   UnderflowSink
	logger *logrus.Logger

	underflows    atomic.Uint32
	lastUnderflow atomic.Int64 // unix nanos

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLETimer creates a timer raising an underflow every period
func NewLETimer(period time.Duration, sink UnderflowSink, logger *logrus.Logger) *LETimer {
	if logger == nil {
		logger = logrus.New()
	}
	return &LETimer{period: period, sink: sink, logger: logger}
}

// Start begins counting. It returns an error if the timer already runs.
func (t *LETimer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return fmt.Errorf("letimer already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.stopped = make(chan struct{})
	t.lastUnderflow.Store(time.Now().UnixNano())
	stopped := t.stopped

	t.logger.WithField("period", t.period).Debug("LETIMER started")

	groutine.Go(runCtx, "letimer", func(ctx context.Context) {
		defer close(stopped)

		ticker := time.NewTicker(t.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.underflows.Add(1)
				t.lastUnderflow.Store(now.UnixNano())
				t.sink.OnTimerUnderflow()
			}
		}
	})
	return nil
}

// Stop halts the timer and waits for its goroutine to exit
func (t *LETimer) Stop() {
	t.mu.Lock()
	cancel, stopped := t.cancel, t.stopped
	t.cancel, t.stopped = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	t.logger.Debug("LETIMER stopped")
}

// Underflows returns the number of completed periods
func (t *LETimer) Underflows() uint32 {
	return t.underflows.Load()
}

// Milliseconds returns elapsed time: whole periods plus the time into the
// current one.
func (t *LETimer) Milliseconds() uint64 {
	whole := uint64(t.underflows.Load()) * uint64(t.period/time.Millisecond)

	last := t.lastUnderflow.Load()
	if last == 0 {
		return whole
	}
	into := time.Since(time.Unix(0, last))
	if into < 0 {
		into = 0
	}
	if into > t.period {
		into = t.period
	}
	return whole + uint64(into/time.Millisecond)
}
