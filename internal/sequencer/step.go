// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sequencer

import (
	"fmt"
	"math"
	"time"

	"github.com/ffutop/x200-tester/internal/config"
	"github.com/ffutop/x200-tester/modbus"
)

// Action is what a step asks of the drive.
type Action string

const (
	ActionReset        Action = config.ActionReset
	ActionSetRun       Action = config.ActionSetRun
	ActionSetReverse   Action = config.ActionSetReverse
	ActionSetFrequency Action = config.ActionSetFrequency
	ActionTrip         Action = config.ActionTrip
)

// Step is one command followed by a settle time.
type Step struct {
	Name   string
	Action Action
	// Enable is the value for set-run and set-reverse.
	Enable bool
	// Frequency is the raw register value for set-frequency.
	Frequency uint16
	Settle    time.Duration
}

func (s Step) String() string {
	switch s.Action {
	case ActionSetRun, ActionSetReverse:
		return fmt.Sprintf("%s(%v)", s.Action, s.Enable)
	case ActionSetFrequency:
		return fmt.Sprintf("%s(%d)", s.Action, s.Frequency)
	default:
		return string(s.Action)
	}
}

// DefaultSteps is the bench test: reset, start, walk the frequency up and
// back down, stop, then trip. Frequencies are in whole hertz.
func DefaultSteps() []Step {
	return []Step{
		{Name: "reset", Action: ActionReset, Settle: time.Second},
		{Name: "start", Action: ActionSetRun, Enable: true, Settle: time.Second},
		{Name: "30Hz", Action: ActionSetFrequency, Frequency: 30, Settle: 8 * time.Second},
		{Name: "50Hz", Action: ActionSetFrequency, Frequency: 50, Settle: 8 * time.Second},
		{Name: "100Hz", Action: ActionSetFrequency, Frequency: 100, Settle: 8 * time.Second},
		{Name: "15Hz", Action: ActionSetFrequency, Frequency: 15, Settle: 8 * time.Second},
		// same value again: the drive must accept a repeated setpoint
		{Name: "15Hz again", Action: ActionSetFrequency, Frequency: 15, Settle: 8 * time.Second},
		{Name: "stop", Action: ActionSetRun, Enable: false, Settle: 5 * time.Second},
		{Name: "trip", Action: ActionTrip},
	}
}

// FromConfig builds the steps from configuration, falling back to
// DefaultSteps, and scales frequencies from hertz to register units.
func FromConfig(steps []config.StepConfig, decimals int) ([]Step, error) {
	var out []Step
	if len(steps) == 0 {
		out = DefaultSteps()
	} else {
		out = make([]Step, 0, len(steps))
		for i, s := range steps {
			name := s.Name
			if name == "" {
				name = fmt.Sprintf("step %d", i+1)
			}
			if s.Frequency < 0 || s.Frequency > math.MaxUint16 {
				return nil, fmt.Errorf("%w: step %q: frequency %d out of range [0, 65535]", modbus.ErrInvalidArgument, name, s.Frequency)
			}
			out = append(out, Step{
				Name:      name,
				Action:    Action(s.Action),
				Enable:    s.Enable,
				Frequency: uint16(s.Frequency),
				Settle:    s.Settle,
			})
		}
	}
	return Scale(out, decimals)
}

// Scale multiplies set-frequency values by 10^decimals.
func Scale(steps []Step, decimals int) ([]Step, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", modbus.ErrInvalidArgument, decimals)
	}
	factor := uint64(math.Pow10(decimals))
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.Action == ActionSetFrequency {
			v := uint64(s.Frequency) * factor
			if v > math.MaxUint16 {
				return nil, fmt.Errorf("%w: step %q: frequency %d with %d decimals exceeds the register", modbus.ErrInvalidArgument, s.Name, s.Frequency, decimals)
			}
			s.Frequency = uint16(v)
		}
		out[i] = s
	}
	return out, nil
}
