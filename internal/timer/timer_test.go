package timer

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	underflows atomic.Int32
	matches    atomic.Int32
}

func (s *countingSink) OnTimerUnderflow()    { s.underflows.Add(1) }
func (s *countingSink) OnTimerCompareMatch() { s.matches.Add(1) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDelay_ClampBounds(t *testing.T) {
	d := NewDelay(time.Millisecond, 3*time.Second, &countingSink{}, quietLogger())

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", 100 * time.Microsecond, time.Millisecond},
		{"in range", 80 * time.Millisecond, 80 * time.Millisecond},
		{"above maximum", 6 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Clamp(tt.in))
		})
	}
}

func TestDelay_FiresCompareMatchOnce(t *testing.T) {
	sink := &countingSink{}
	d := NewDelay(time.Millisecond, time.Second, sink, quietLogger())

	require.NoError(t, d.Arm("temperature", 5*time.Millisecond))
	owner, armed := d.Armed()
	assert.True(t, armed)
	assert.Equal(t, "temperature", owner)

	assert.Eventually(t, func() bool { return sink.matches.Load() == 1 }, time.Second, time.Millisecond)

	_, armed = d.Armed()
	assert.False(t, armed)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), sink.matches.Load())
}

func TestDelay_SecondArmIsAViolation(t *testing.T) {
	sink := &countingSink{}
	d := NewDelay(time.Millisecond, time.Second, sink, quietLogger())

	require.NoError(t, d.Arm("pulse", 50*time.Millisecond))
	err := d.Arm("temperature", 5*time.Millisecond)

	assert.ErrorIs(t, err, ErrDelayBusy)
	assert.ErrorContains(t, err, "pulse")
	assert.Equal(t, uint64(1), d.Violations())

	owner, _ := d.Armed()
	assert.Equal(t, "pulse", owner)

	// once the first delay expires the channel can be armed again
	assert.Eventually(t, func() bool { return sink.matches.Load() == 1 }, time.Second, time.Millisecond)
	assert.NoError(t, d.Arm("temperature", time.Millisecond))
}

func TestDelay_CancelSuppressesCompareMatch(t *testing.T) {
	sink := &countingSink{}
	d := NewDelay(time.Millisecond, time.Second, sink, quietLogger())

	require.NoError(t, d.Arm("gesture", 20*time.Millisecond))
	d.Cancel()
	d.Cancel() // idempotent

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), sink.matches.Load())

	_, armed := d.Armed()
	assert.False(t, armed)
}

func TestDelay_PolledWaitBlocks(t *testing.T) {
	d := NewDelay(time.Millisecond, time.Second, &countingSink{}, quietLogger())

	start := time.Now()
	d.PolledWait(10 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	d.PolledWait(0)
}

func TestLETimer_RaisesUnderflows(t *testing.T) {
	sink := &countingSink{}
	lt := NewLETimer(5*time.Millisecond, sink, quietLogger())

	require.NoError(t, lt.Start(context.Background()))
	assert.Error(t, lt.Start(context.Background()), "second start must fail")

	assert.Eventually(t, func() bool { return sink.underflows.Load() >= 3 }, time.Second, time.Millisecond)
	lt.Stop()
	lt.Stop() // idempotent

	seen := lt.Underflows()
	assert.GreaterOrEqual(t, seen, uint32(3))
	assert.GreaterOrEqual(t, lt.Milliseconds(), uint64(seen)*5)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, lt.Underflows(), "no underflows after stop")
}

func TestLETimer_StopsWithContext(t *testing.T) {
	sink := &countingSink{}
	lt := NewLETimer(5*time.Millisecond, sink, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, lt.Start(ctx))
	cancel()

	time.Sleep(20 * time.Millisecond)
	before := sink.underflows.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sink.underflows.Load())
	lt.Stop()
}
