package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/gatt"
)

// StepKind enumerates script actions
type StepKind int

const (
	StepGesture StepKind = iota
	StepPressA
	StepReleaseA
	StepPressB
	StepReleaseB
	StepEnableGesture
	StepFinger
	StepDisconnect
	StepWait
)

// Step is one parsed script action
type Step struct {
	Kind    StepKind
	Gesture gatt.GestureCode
	On      bool
	Wait    time.Duration
	Text    string
}

// ParseScript splits a comma separated script into steps
func ParseScript(script string) ([]Step, error) {
	var steps []Step
	for _, raw := range strings.Split(script, ",") {
		text := strings.ToLower(strings.TrimSpace(raw))
		if text == "" {
			continue
		}

		step := Step{Text: text}
		switch text {
		case "press-a":
			step.Kind = StepPressA
		case "release-a":
			step.Kind = StepReleaseA
		case "press-b":
			step.Kind = StepPressB
		case "release-b":
			step.Kind = StepReleaseB
		case "enable-gesture":
			step.Kind = StepEnableGesture
		case "finger-on", "finger-off":
			step.Kind = StepFinger
			step.On = text == "finger-on"
		case "disconnect":
			step.Kind = StepDisconnect
		default:
			if d, ok := strings.CutPrefix(text, "wait:"); ok {
				wait, err := time.ParseDuration(d)
				if err != nil || wait < 0 {
					return nil, fmt.Errorf("invalid wait %q", raw)
				}
				step.Kind, step.Wait = StepWait, wait
				break
			}
			g, err := gatt.ParseGesture(text)
			if err != nil {
				return nil, fmt.Errorf("invalid script step %q: %w", raw, err)
			}
			step.Kind, step.Gesture = StepGesture, g
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Buttons receives the simulated button edges
type Buttons interface {
	OnButtonA(pressed bool)
	OnButtonB(pressed bool)
}

// Runner plays a script against the simulated hardware
type Runner struct {
	Buttons Buttons
	Gesture *APDS9960
	Hub     *MAX32664
	Peer    *Loopback
	// Gap separates consecutive steps so the run loop sees them in order
	Gap    time.Duration
	Logger *logrus.Logger
}

// Run plays steps until the last one or until ctx is done
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	logger := r.Logger
	if logger == nil {
		logger = logrus.New()
	}

	for i, step := range steps {
		if err := r.pause(ctx, r.Gap); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"step": i + 1, "action": step.Text}).Debug("Script step")

		switch step.Kind {
		case StepGesture:
			if !r.Gesture.Perform(step.Gesture) {
				logger.WithField("gesture", step.Gesture).Info("Gesture ignored, sensor disabled")
			}
		case StepPressA:
			r.Buttons.OnButtonA(true)
		case StepReleaseA:
			r.Buttons.OnButtonA(false)
		case StepPressB:
			r.Buttons.OnButtonB(true)
		case StepReleaseB:
			r.Buttons.OnButtonB(false)
		case StepEnableGesture:
			if err := r.chord(ctx); err != nil {
				return err
			}
		case StepFinger:
			r.Hub.SetFinger(step.On)
		case StepDisconnect:
			r.Peer.Disconnect()
		case StepWait:
			if err := r.pause(ctx, step.Wait); err != nil {
				return err
			}
		}
	}
	return nil
}

// chord holds B, clicks A and releases B
func (r *Runner) chord(ctx context.Context) error {
	actions := []func(){
		func() { r.Buttons.OnButtonB(true) },
		func() { r.Buttons.OnButtonA(true) },
		func() { r.Buttons.OnButtonA(false) },
		func() { r.Buttons.OnButtonB(false) },
	}
	for i, act := range actions {
		if i > 0 {
			if err := r.pause(ctx, r.Gap); err != nil {
				return err
			}
		}
		act()
	}
	return nil
}

func (r *Runner) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
