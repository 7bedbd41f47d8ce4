// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package vfd

import (
	"strings"
)

// Status labels of the X200 status bundle.
const (
	Running = "running"
	Reverse = "reverse"
	Ready   = "ready"
	Alarm   = "alarm"
	AtSpeed = "at_speed"
)

// Status is one snapshot of the status bundle.
type Status struct {
	labels []string
	values map[string]bool
}

// Get returns the value of label and whether the snapshot has it.
func (s Status) Get(label string) (bool, bool) {
	v, ok := s.values[label]
	return v, ok
}

// Labels returns the labels in address order.
func (s Status) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Map returns a copy of the snapshot.
func (s Status) Map() map[string]bool {
	m := make(map[string]bool, len(s.values))
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

func (s Status) Running() bool { return s.values[Running] }
func (s Status) Reverse() bool { return s.values[Reverse] }
func (s Status) Ready() bool   { return s.values[Ready] }
func (s Status) Alarm() bool   { return s.values[Alarm] }
func (s Status) AtSpeed() bool { return s.values[AtSpeed] }

func (s Status) String() string {
	var b strings.Builder
	for i, label := range s.labels {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(label)
		if s.values[label] {
			b.WriteString("=1")
		} else {
			b.WriteString("=0")
		}
	}
	return b.String()
}
