package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/srg/vitals/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_PreservesArrivalOrder(t *testing.T) {
	d := NewDispatcher(8)

	d.OnTimerUnderflow()
	d.OnTimerCompareMatch()
	d.OnTransportDone()
	d.OnButtonA(true)
	d.OnButtonB(false)
	d.OnAuxEdge()
	d.PostPeer(Bonded{})

	want := []Kind{TimerUnderflow, TimerCompareMatch, TransportDone, ButtonAEdge, ButtonBEdge, AuxSensorEdge, Peer}
	for _, k := range want {
		e, ok := d.TryNext()
		require.True(t, ok)
		assert.Equal(t, k, e.Kind)
	}
	_, ok := d.TryNext()
	assert.False(t, ok)
}

func TestDispatcher_CountersAndFlags(t *testing.T) {
	d := NewDispatcher(4)

	d.OnTimerUnderflow()
	d.OnTimerUnderflow()
	d.OnButtonA(true)
	d.OnButtonB(true)

	assert.Equal(t, uint32(2), d.Rollovers())
	assert.True(t, d.ButtonAPressed())
	assert.True(t, d.ButtonBPressed())

	d.OnButtonA(false)
	assert.False(t, d.ButtonAPressed())
}

func TestDispatcher_BurstCoalescesSignals(t *testing.T) {
	d := NewDispatcher(2)

	d.OnTimerUnderflow()
	d.OnTimerUnderflow()
	d.OnTimerUnderflow()
	d.OnTransportDone()
	d.OnTimerUnderflow()

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Posted)
	assert.Equal(t, uint64(3), stats.Coalesced)
	// the counter update happens even when the signal is folded
	assert.Equal(t, uint32(4), stats.Rollovers)
	assert.Equal(t, 2, d.Pending())

	e, ok := d.TryNext()
	require.True(t, ok)
	assert.Equal(t, TimerUnderflow, e.Kind)

	// consumed, so the next underflow is posted again
	d.OnTimerUnderflow()
	assert.Equal(t, 2, d.Pending())

	var kinds []Kind
	for e, ok := d.TryNext(); ok; e, ok = d.TryNext() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []Kind{TransportDone, TimerUnderflow}, kinds)
}

func TestDispatcher_BurstKeepsEveryPeerEvent(t *testing.T) {
	d := NewDispatcher(4)

	for i := 0; i < 10; i++ {
		d.OnTimerUnderflow()
	}
	for i := 0; i < 40; i++ {
		d.PostPeer(CharacteristicStatus{Capability: gatt.Temperature, Confirmation: true})
		d.OnTimerCompareMatch()
	}
	assert.Equal(t, 42, d.Pending())

	confirmations := 0
	for e, ok := d.TryNext(); ok; e, ok = d.TryNext() {
		if cs, isStatus := e.PeerEvent.(CharacteristicStatus); isStatus && cs.Confirmation {
			confirmations++
		}
	}
	assert.Equal(t, 40, confirmations)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_NilPeerEventIgnored(t *testing.T) {
	d := NewDispatcher(2)
	d.PostPeer(nil)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_NextWakesOnPost(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		d.OnAuxEdge()
	}()

	e, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, AuxSensorEdge, e.Kind)
	wg.Wait()
}

func TestDispatcher_NextHonorsContext(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_ConcurrentProducers(t *testing.T) {
	d := NewDispatcher(8)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.OnTimerUnderflow()
				d.PostPeer(Bonded{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(1000), d.Rollovers())
	// one underflow stays pending, every peer event is kept
	assert.Equal(t, Stats{Posted: 1001, Coalesced: 999, Rollovers: 1000}, d.Stats())
	assert.Equal(t, 1001, d.Pending())
}

func TestDispatcher_NextDrainsBeforeBlocking(t *testing.T) {
	d := NewDispatcher(1)
	for i := 0; i < 5; i++ {
		d.PostPeer(Bonded{})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		e, err := d.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, Peer, e.Kind)
	}
	_, ok := d.TryNext()
	assert.False(t, ok)
}

func TestEvent_String(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Kind: TimerUnderflow}, "timer_underflow"},
		{Event{Kind: TransportDone}, "transport_done"},
		{Event{Kind: Peer, PeerEvent: PasskeyConfirmRequest{Passkey: 123456}}, "peer:passkey_confirm"},
		{Event{Kind: Peer, PeerEvent: CharacteristicStatus{Capability: gatt.Pulse, Confirmation: true}}, "peer:characteristic_status"},
		{Event{Kind: Kind(99)}, "kind(99)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.String())
		})
	}
}

func TestJournal(t *testing.T) {
	_, err := NewJournal(0)
	assert.Error(t, err)

	j, err := NewJournal(16)
	require.NoError(t, err)

	j.Record(Event{Kind: TimerUnderflow})
	j.Record(Event{Kind: Peer, PeerEvent: ConnectionOpened{Address: "aa:bb"}})

	entries := j.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, "timer_underflow", entries[0].Event)
	assert.Equal(t, "peer:connection_opened", entries[1].Event)
	assert.Equal(t, uint64(2), j.Recorded())
	assert.Empty(t, j.Drain())
}

func TestJournal_KeepsMostRecent(t *testing.T) {
	j, err := NewJournal(4)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		j.Record(Event{Kind: TimerCompareMatch})
	}

	entries := j.Drain()
	require.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 40)
	// newest entry always survives
	assert.Equal(t, uint64(40), entries[len(entries)-1].Seq)
}
