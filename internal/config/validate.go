// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
)

// Step actions
const (
	ActionReset        = "reset"
	ActionSetRun       = "set-run"
	ActionSetReverse   = "set-reverse"
	ActionSetFrequency = "set-frequency"
	ActionTrip         = "trip"
)

// Validate checks values that have no sensible fixup.
// Register numbers are checked when the register map is built.
func Validate(c *Config) error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	switch c.Link.Type {
	case LinkRTU:
		if c.Link.Serial.Device == "" && !c.Simulator.Enabled {
			return errors.New("config: link.serial.device required")
		}
	case LinkRTUOverTCP:
		if c.Link.Tcp.Address == "" && !c.Simulator.Enabled {
			return errors.New("config: link.tcp.address required")
		}
	default:
		return fmt.Errorf("config: unknown link type %q", c.Link.Type)
	}

	switch c.Link.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("config: unknown parity %q", c.Link.Serial.Parity)
	}

	if c.SlaveID < 1 || c.SlaveID > 247 {
		return fmt.Errorf("config: slave_id %d out of range [1, 247]", c.SlaveID)
	}
	if c.FrequencyDecimals < 0 || c.FrequencyDecimals > 3 {
		return fmt.Errorf("config: frequency_decimals %d out of range [0, 3]", c.FrequencyDecimals)
	}

	for i, s := range c.Sequence {
		switch s.Action {
		case ActionReset, ActionSetRun, ActionSetReverse, ActionSetFrequency, ActionTrip:
		default:
			return fmt.Errorf("config: sequence step %d: unknown action %q", i, s.Action)
		}
		if s.Frequency < 0 || s.Frequency > 0xFFFF {
			return fmt.Errorf("config: sequence step %d: frequency %d out of range [0, 65535]", i, s.Frequency)
		}
		if s.Settle < 0 {
			return fmt.Errorf("config: sequence step %d: negative settle %v", i, s.Settle)
		}
	}

	switch c.Simulator.Persistence.Type {
	case "", "memory", "file", "mmap":
	default:
		return fmt.Errorf("config: unknown simulator persistence %q", c.Simulator.Persistence.Type)
	}
	if t := c.Simulator.Persistence.Type; (t == "file" || t == "mmap") && c.Simulator.Persistence.Path == "" {
		return fmt.Errorf("config: simulator persistence %q needs a path", t)
	}
	return nil
}
