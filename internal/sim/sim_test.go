package sim

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/bus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/sensor"
	"github.com/srg/vitals/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type nopDone struct{}

func (nopDone) OnTransportDone() {}

type noWait struct{}

func (noWait) Arm(string, time.Duration) error { return nil }
func (noWait) PolledWait(time.Duration)        {}

type peerLog struct {
	events []event.PeerEvent
}

func (p *peerLog) PostPeer(e event.PeerEvent) { p.events = append(p.events, e) }

func (p *peerLog) take() []event.PeerEvent {
	out := p.events
	p.events = nil
	return out
}

func newBoard(t *testing.T, irq func()) (*Hardware, *bus.Sequencer) {
	t.Helper()
	cfg := config.DefaultConfig().Simulation
	hw := NewHardware(cfg, irq, quietLogger())
	return hw, bus.NewSequencer(hw.Bus, nopDone{}, quietLogger())
}

func TestBus_UnknownAddressNACK(t *testing.T) {
	b := NewBus(quietLogger())
	err := b.Tx(0x10, []byte{0x00}, nil)
	assert.ErrorIs(t, err, ErrNACK)
	assert.Equal(t, uint64(1), b.Transactions())
}

func TestSi7021_Conversion(t *testing.T) {
	tests := []struct {
		name    string
		celsius float64
	}{
		{"room", 23.5},
		{"body", 36.6},
		{"freezing", -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSi7021(tt.celsius)
			require.NoError(t, s.Tx([]byte{si7021MeasureNoHold}, nil))

			buf := make([]byte, 2)
			require.NoError(t, s.Tx(nil, buf))
			raw := uint16(buf[0])<<8 | uint16(buf[1])
			assert.InDelta(t, tt.celsius, sensor.ConvertSi7021(raw), 0.01)
			assert.Equal(t, uint64(1), s.Conversions())
		})
	}
}

func TestSi7021_Errors(t *testing.T) {
	s := NewSi7021(20)
	assert.ErrorIs(t, s.Tx(nil, make([]byte, 2)), ErrNACK)
	assert.ErrorIs(t, s.Tx([]byte{0xE3}, nil), ErrUnsupported)

	require.NoError(t, s.Tx([]byte{si7021MeasureNoHold}, nil))
	require.NoError(t, s.Tx(nil, make([]byte, 2)))
	assert.ErrorIs(t, s.Tx(nil, make([]byte, 2)), ErrNACK, "a conversion is read once")
}

func TestAPDS9960_GesturesClassifyThroughDriver(t *testing.T) {
	gestures := []gatt.GestureCode{
		gatt.GestureUp, gatt.GestureDown, gatt.GestureLeft, gatt.GestureRight,
		gatt.GestureNear, gatt.GestureFar, gatt.GestureNone,
	}
	for _, g := range gestures {
		t.Run(g.String(), func(t *testing.T) {
			irqs := 0
			hw, seq := newBoard(t, func() { irqs++ })
			drv := sensor.NewAPDS9960(seq, noWait{})
			require.NoError(t, drv.Init())
			require.NoError(t, drv.EnableGesture(true))
			require.True(t, hw.Gesture.GestureEnabled())

			require.True(t, hw.Gesture.Perform(g))
			assert.Equal(t, 1, irqs)

			ok, err := drv.GestureAvailable()
			require.NoError(t, err)
			require.True(t, ok)

			got, err := drv.ReadGesture()
			require.NoError(t, err)
			assert.Equal(t, g, got)

			ok, err = drv.GestureAvailable()
			require.NoError(t, err)
			assert.False(t, ok, "FIFO drained")
		})
	}
}

func TestAPDS9960_DisabledIgnoresGestures(t *testing.T) {
	irqs := 0
	hw, seq := newBoard(t, func() { irqs++ })
	drv := sensor.NewAPDS9960(seq, noWait{})
	require.NoError(t, drv.Init())

	assert.False(t, hw.Gesture.Perform(gatt.GestureUp))

	require.NoError(t, drv.EnableGesture(false))
	assert.True(t, hw.Gesture.Perform(gatt.GestureUp))
	assert.Zero(t, irqs, "interrupt disabled")

	require.NoError(t, drv.DisableGesture())
	assert.False(t, hw.Gesture.GestureEnabled())
	assert.Equal(t, byte(0), hw.Gesture.Register(apdsGConf4))
}

func TestMAX32664_ResetAndSamples(t *testing.T) {
	hub := NewMAX32664(72, 97)
	pins := NewPins(hub)

	require.NoError(t, pins.SetReset(false))
	assert.ErrorIs(t, hub.Tx([]byte{0x02, 0x00}, nil), ErrNACK)
	require.NoError(t, pins.SetReset(true))
	require.NoError(t, pins.SetMFIO(true))
	reset, mfio := pins.Levels()
	assert.True(t, reset)
	assert.True(t, mfio)

	block := make([]byte, sensor.ReadbackLen)
	require.NoError(t, hub.Tx([]byte{0x02, 0x00}, block))
	assert.Equal(t, byte(0), block[0])

	var window sensor.PulseWindow
	for i := 0; i < 10; i++ {
		require.NoError(t, hub.Tx(cmdReadFIFOData, nil))
		require.NoError(t, hub.Tx(nil, block))
		s, err := sensor.ParsePulseSample(block)
		require.NoError(t, err)
		require.True(t, s.Valid())
		window.Add(s)
	}
	hr, o2 := window.Max()
	assert.Equal(t, uint8(80), hr)
	assert.Equal(t, uint8(99), o2)

	hub.SetFinger(false)
	require.NoError(t, hub.Tx(nil, block))
	s, err := sensor.ParsePulseSample(block)
	require.NoError(t, err)
	assert.Equal(t, sensor.AlgoObject, s.Status)
	assert.Len(t, hub.Commands(), 11)
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    []Step
		wantErr bool
	}{
		{
			name:   "gestures and buttons",
			script: "enable-gesture, Up ,press-a,release-a,wait:1.5s,finger-off,disconnect",
			want: []Step{
				{Kind: StepEnableGesture, Text: "enable-gesture"},
				{Kind: StepGesture, Gesture: gatt.GestureUp, Text: "up"},
				{Kind: StepPressA, Text: "press-a"},
				{Kind: StepReleaseA, Text: "release-a"},
				{Kind: StepWait, Wait: 1500 * time.Millisecond, Text: "wait:1.5s"},
				{Kind: StepFinger, On: false, Text: "finger-off"},
				{Kind: StepDisconnect, Text: "disconnect"},
			},
		},
		{name: "empty", script: " , ", want: nil},
		{name: "bad wait", script: "wait:soon", wantErr: true},
		{name: "negative wait", script: "wait:-1s", wantErr: true},
		{name: "unknown", script: "wave", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScript(tt.script)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type buttonLog struct {
	edges []string
}

func (b *buttonLog) OnButtonA(p bool) { b.edges = append(b.edges, edge("a", p)) }
func (b *buttonLog) OnButtonB(p bool) { b.edges = append(b.edges, edge("b", p)) }

func edge(name string, pressed bool) string {
	if pressed {
		return name + "+"
	}
	return name + "-"
}

func TestRunner_PlaysScript(t *testing.T) {
	irqs := 0
	hw, seq := newBoard(t, func() { irqs++ })
	drv := sensor.NewAPDS9960(seq, noWait{})
	require.NoError(t, drv.Init())
	require.NoError(t, drv.EnableGesture(true))

	buttons := &buttonLog{}
	peers := &peerLog{}
	r := &Runner{
		Buttons: buttons,
		Gesture: hw.Gesture,
		Hub:     hw.Hub,
		Peer:    NewLoopback(peers, LoopbackOptions{Logger: quietLogger()}),
		Logger:  quietLogger(),
	}

	steps, err := ParseScript("enable-gesture,left,press-a,release-a,finger-off")
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), steps))

	assert.Equal(t, []string{"b+", "a+", "a-", "b-", "a+", "a-"}, buttons.edges)
	assert.Equal(t, 1, irqs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx, []Step{{Kind: StepWait, Wait: time.Hour}}), context.Canceled)
}

func TestLoopback_ConnectBondSubscribeConfirm(t *testing.T) {
	peers := &peerLog{}
	var seen []Indication
	l := NewLoopback(peers, LoopbackOptions{
		Logger: quietLogger(),
		OnIndication: func(c gatt.Capability, p []byte) {
			seen = append(seen, Indication{Capability: c, Payload: p})
		},
	})

	l.Start(context.Background())
	assert.Equal(t, []event.PeerEvent{event.Boot{Address: "00:0B:57:00:00:01"}}, peers.take())

	require.NoError(t, l.StartAdvertising())
	assert.True(t, l.Connected())
	assert.Equal(t, []event.PeerEvent{
		event.ConnectionOpened{Address: "00:0B:57:00:00:02", Handle: 1},
		event.BondingConfirmRequest{},
	}, peers.take())

	require.NoError(t, l.ConfirmBonding(true))
	got := peers.take()
	require.Len(t, got, 5)
	assert.Equal(t, event.Bonded{}, got[0])
	for i, c := range gatt.Capabilities() {
		assert.Equal(t, event.CharacteristicStatus{Capability: c, ClientConfig: event.ConfigIndication}, got[i+1])
	}

	require.NoError(t, l.Indicate(gatt.Gesture, []byte{3}))
	assert.Equal(t, []event.PeerEvent{event.CharacteristicStatus{Capability: gatt.Gesture, Confirmation: true}}, peers.take())
	assert.Len(t, seen, 1)
	assert.Len(t, l.Indications(), 1)

	l.Disconnect()
	assert.Equal(t, []event.PeerEvent{event.ConnectionClosed{Reason: 0x0213}}, peers.take())
	assert.ErrorIs(t, l.Indicate(gatt.Gesture, []byte{3}), ErrNoPeer)

	l.Disconnect()
	assert.Empty(t, peers.take())
}

func TestLoopback_PasskeyAndDroppedConfirmations(t *testing.T) {
	peers := &peerLog{}
	l := NewLoopback(peers, LoopbackOptions{Passkey: 123456, DropConfirmations: true, Logger: quietLogger()})

	l.Connect()
	got := peers.take()
	require.Len(t, got, 2)
	assert.Equal(t, event.PasskeyConfirmRequest{Passkey: 123456}, got[1])

	require.NoError(t, l.Indicate(gatt.Temperature, gatt.EncodeTemperature(20)))
	assert.Equal(t, []event.PeerEvent{event.IndicationTimeout{Capability: gatt.Temperature}}, peers.take())
}

func TestLoopback_Latency(t *testing.T) {
	ch := make(chan event.PeerEvent, 4)
	l := NewLoopback(chanSink(ch), LoopbackOptions{Latency: 5 * time.Millisecond, Logger: quietLogger()})
	l.Start(context.Background())

	select {
	case e := <-ch:
		assert.IsType(t, event.Boot{}, e)
	case <-time.After(time.Second):
		t.Fatal("boot event not delivered")
	}
}

type chanSink chan event.PeerEvent

func (c chanSink) PostPeer(e event.PeerEvent) { c <- e }
