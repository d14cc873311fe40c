package core

import (
	"encoding/json"

	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/session"
	"github.com/srg/vitals/pkg/config"
)

// DispatcherStatus mirrors event.Stats for reporting
type DispatcherStatus struct {
	Posted    uint64 `json:"posted"`
	Coalesced uint64 `json:"coalesced"`
	Rollovers uint32 `json:"rollovers"`
	Pending   int    `json:"pending"`
}

// SensorStatus reports the sensor side of a server node
type SensorStatus struct {
	Machines        map[string]string `json:"machines"`
	Acquisition     string            `json:"acquisition"`
	Gesture         string            `json:"gesture"`
	GestureEnabled  bool              `json:"gesture_enabled"`
	PulseOn         bool              `json:"pulse_on"`
	Temperature     float64           `json:"temperature"`
	TempSamples     uint64            `json:"temperature_samples"`
	PulseReports    uint64            `json:"pulse_reports"`
	PulseDiscarded  uint64            `json:"pulse_discarded"`
	BusTransactions uint64            `json:"bus_transactions"`
	BusFailures     uint64            `json:"bus_failures"`
}

// Status is a point-in-time report of a node
type Status struct {
	Role            config.Role          `json:"role"`
	ElapsedMs       uint64               `json:"elapsed_ms"`
	Routed          uint64               `json:"routed"`
	Dispatcher      DispatcherStatus     `json:"dispatcher"`
	DelayViolations uint64               `json:"delay_violations"`
	Session         *session.Snapshot    `json:"session,omitempty"`
	Server          *session.ServerStats `json:"server,omitempty"`
	QueueLen        int                  `json:"queue_len"`
	Client          *session.View        `json:"client,omitempty"`
	Discovery       string               `json:"discovery,omitempty"`
	Sensors         *SensorStatus        `json:"sensors,omitempty"`
	Journal         []event.JournalEntry `json:"journal,omitempty"`
}

// Status collects the report. It drains the event journal, so each entry
// appears in one report only. Call it from the run loop or after Run returned.
func (c *Context) Status() Status {
	ds := c.dispatcher.Stats()
	st := Status{
		Role:      c.cfg.Role,
		ElapsedMs: c.letimer.Milliseconds(),
		Routed:    c.routed,
		Dispatcher: DispatcherStatus{
			Posted:    ds.Posted,
			Coalesced: ds.Coalesced,
			Rollovers: ds.Rollovers,
			Pending:   c.dispatcher.Pending(),
		},
		DelayViolations: c.delay.Violations(),
		Journal:         c.journal.Drain(),
	}

	if c.server != nil {
		snap := c.server.Record().Snapshot()
		stats := c.server.Stats()
		st.Session = &snap
		st.Server = &stats
		st.QueueLen = c.server.Queue().Len()
	}
	if c.client != nil {
		snap := c.client.Record().Snapshot()
		view := c.client.View()
		st.Session = &snap
		st.Client = &view
		st.Discovery = c.client.State().String()
	}

	if c.cfg.Role == config.RoleServer {
		temp, samples := c.temperature.Last()
		bs := c.bus.Stats()
		st.Sensors = &SensorStatus{
			Machines: map[string]string{
				c.temperature.Name(): c.temperature.State(),
				c.gesture.Name():     c.gesture.State(),
				c.pulse.Name():       c.pulse.State(),
			},
			Acquisition:     c.active.String(),
			Gesture:         c.gestureValue.String(),
			GestureEnabled:  c.gesture.Enabled(),
			PulseOn:         c.pulseOn,
			Temperature:     temp,
			TempSamples:     samples,
			PulseReports:    c.pulse.Reports(),
			PulseDiscarded:  c.pulse.Discarded(),
			BusTransactions: bs.Transactions,
			BusFailures:     bs.Failures,
		}
	}
	return st
}

// JSON renders the status as indented JSON
func (s Status) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
