package timer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrDelayBusy is returned when a delay is requested while another is armed
var ErrDelayBusy = errors.New("delay timer already armed")

// CompareSink receives the compare-match interrupt of an expired delay
type CompareSink interface {
	OnTimerCompareMatch()
}

// Delay is the single hardware compare channel shared by every state
// machine. Only one delay may be outstanding; a second Arm fails with
// ErrDelayBusy and is counted as a violation.
type Delay struct {
	min, max time.Duration
	sink     CompareSink
	logger   *logrus.Logger

	mu    sync.Mutex
	armed bool
	owner string
	gen   uint64
	timer *time.Timer

	violations atomic.Uint64
}

// NewDelay creates a delay channel whose waits are clamped to [min, max]
func NewDelay(min, max time.Duration, sink CompareSink, logger *logrus.Logger) *Delay {
	if logger == nil {
		logger = logrus.New()
	}
	return &Delay{min: min, max: max, sink: sink, logger: logger}
}

// Clamp bounds wait to the range the compare channel can express
func (d *Delay) Clamp(wait time.Duration) time.Duration {
	if wait < d.min {
		return d.min
	}
	if wait > d.max {
		return d.max
	}
	return wait
}

// Arm schedules one TimerCompareMatch after wait on behalf of owner
func (d *Delay) Arm(owner string, wait time.Duration) error {
	clamped := d.Clamp(wait)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.armed {
		d.violations.Add(1)
		d.logger.WithFields(logrus.Fields{
			"owner":   owner,
			"held_by": d.owner,
			"wait":    wait,
		}).Error("Delay requested while another delay is armed")
		return fmt.Errorf("%w by %s", ErrDelayBusy, d.owner)
	}

	if clamped != wait {
		d.logger.WithFields(logrus.Fields{
			"owner":     owner,
			"requested": wait,
			"clamped":   clamped,
		}).Debug("Delay clamped")
	}

	d.armed = true
	d.owner = owner
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(clamped, func() { d.expire(gen) })
	return nil
}

func (d *Delay) expire(gen uint64) {
	d.mu.Lock()
	if !d.armed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.owner = ""
	d.mu.Unlock()

	d.sink.OnTimerCompareMatch()
}

// Cancel disarms a pending delay. Its compare match is never raised.
func (d *Delay) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		return
	}
	d.timer.Stop()
	d.armed = false
	d.owner = ""
	d.gen++
}

// Armed returns the owner of the outstanding delay, if any
func (d *Delay) Armed() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner, d.armed
}

// Violations counts rejected concurrent Arm requests
func (d *Delay) Violations() uint64 {
	return d.violations.Load()
}

// PolledWait blocks the caller for wait. It is reserved for short settle
// times inside a single step where arming the compare channel is not worth it.
func (d *Delay) PolledWait(wait time.Duration) {
	if wait <= 0 {
		return
	}
	time.Sleep(wait)
}
