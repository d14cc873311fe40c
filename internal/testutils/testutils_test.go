package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		pass     bool
	}{
		{"identical", nil, "a\nb", "a\nb", true},
		{"indentation ignored", nil, "  a\n\tb", "a\nb", true},
		{"blank lines ignored", nil, "a\n\n\nb\n", "\na\nb", true},
		{"indentation kept", []TextOption{WithIgnoreIndentation(false)}, "x\n  a", "x\na", false},
		{"blank lines kept", []TextOption{WithIgnoreEmptyLines(false), WithTrimSpace(false)}, "a\n\nb", "a\nb", false},
		{"different", nil, "a\nc", "a\nb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			ok := NewTextAsserter(rt, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.pass, len(rt.errors) == 0)
		})
	}
}

func TestTextAsserter_DiffShowsChangedLines(t *testing.T) {
	d := NewTextAsserter(&recordingT{}).Diff("x\ny\nz", "x\nq\nz")
	assert.Contains(t, d, "-q")
	assert.Contains(t, d, "+y")

	colored := NewTextAsserter(&recordingT{}, WithEnableColors(true)).Diff("x", "q")
	assert.Contains(t, colored, "\x1b[")
}

func TestTraceRecorder(t *testing.T) {
	var r TraceRecorder
	r.Record("temperature", "Sleep", "TimerWait")
	r.Record("pulse", "Init", "Wait10ms")
	r.Record("temperature", "TimerWait", "WriteCmd")

	NewTextAsserter(t).Assert(r.Only("temperature"), `
		temperature: Sleep -> TimerWait
		temperature: TimerWait -> WriteCmd
	`)
	assert.Equal(t, 3, len(splitLines(r.String())))

	r.Reset()
	assert.Empty(t, r.String())
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func TestJSONAsserter(t *testing.T) {
	actual := `{"role":"server","elapsed_ms":1234,"session":{"connected":true,"id":"abc"},"journal":[{"seq":1,"at":"t","event":"peer:boot"}]}`

	tests := []struct {
		name     string
		opts     []Option
		expected string
		pass     bool
	}{
		{"subset matches", nil, `{"role":"server","session":{"connected":true}}`, true},
		{"presence placeholder", nil, `{"elapsed_ms":"<<PRESENCE>>","session":{"id":"<<PRESENCE>>"}}`, true},
		{"ignored fields", []Option{WithIgnoredFields("at", "seq")}, `{"journal":[{"event":"peer:boot"}]}`, true},
		{"value differs", nil, `{"role":"client"}`, false},
		{"missing key", nil, `{"queue_len":0}`, false},
		{"extra keys compared", []Option{WithIgnoreExtraKeys(false)}, `{"role":"server"}`, false},
		{"placeholder disabled", []Option{WithAllowPresencePlaceholder(false)}, `{"elapsed_ms":"<<PRESENCE>>"}`, false},
		{"invalid expected", nil, `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			ok := NewJSONAsserter(rt, tt.opts...).Assert(actual, tt.expected)
			assert.Equal(t, tt.pass, ok, rt.errors)
		})
	}
}

func TestJSONAsserter_RootArrays(t *testing.T) {
	rt := &recordingT{}
	ja := NewJSONAsserter(rt)
	assert.True(t, ja.Assert(`[1,2,3]`, `[1,2,3]`))
	assert.False(t, ja.Assert(`[1,2,3]`, `[1,3,2]`))
	assert.True(t, ja.AssertValue(map[string]int{"a": 1, "b": 2}, `{"a":1}`))
}
