// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package regmap holds the coil and register addresses of the drive.
//
// The drive manual numbers coils and registers from 1 while the wire
// addresses them from 0; ToAddress is the only place the two meet.
package regmap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ffutop/x200-tester/modbus"
)

// ErrNonContiguousBundle is returned when a status bundle cannot be read
// with a single read-coils request.
var ErrNonContiguousBundle = errors.New("regmap: status bundle cannot be read in one request")

// Coil is a zero-based address in the coil space.
type Coil uint16

// Register is a zero-based address in the holding register space.
type Register uint16

// ToAddress converts a 1-based manual number into a wire address.
func ToAddress(number int) (uint16, error) {
	if number < 1 || number > 0x10000 {
		return 0, fmt.Errorf("%w: manual number %d out of range [1, 65536]", modbus.ErrInvalidArgument, number)
	}
	return uint16(number - 1), nil
}

// Bundle is a run of coils read with one request. Labelled coils sit
// anywhere inside the run.
type Bundle struct {
	base   Coil
	count  uint16
	labels []string
	offset map[string]uint16
}

// Label is one named coil of a bundle.
type Label struct {
	Name string
	Coil Coil
}

// NewBundle validates labels and records the covering address range.
func NewBundle(labels []Label) (*Bundle, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrNonContiguousBundle)
	}
	seenName := make(map[string]bool, len(labels))
	seenCoil := make(map[Coil]string, len(labels))
	lo, hi := labels[0].Coil, labels[0].Coil
	for _, l := range labels {
		if l.Name == "" {
			return nil, fmt.Errorf("%w: empty label at coil %d", ErrNonContiguousBundle, l.Coil)
		}
		if seenName[l.Name] {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrNonContiguousBundle, l.Name)
		}
		if other, ok := seenCoil[l.Coil]; ok {
			return nil, fmt.Errorf("%w: %q and %q share coil %d", ErrNonContiguousBundle, other, l.Name, l.Coil)
		}
		seenName[l.Name] = true
		seenCoil[l.Coil] = l.Name
		if l.Coil < lo {
			lo = l.Coil
		}
		if l.Coil > hi {
			hi = l.Coil
		}
	}
	span := int(hi) - int(lo) + 1
	if span > modbus.MaxReadBits {
		return nil, fmt.Errorf("%w: span %d exceeds %d coils", ErrNonContiguousBundle, span, modbus.MaxReadBits)
	}

	b := &Bundle{
		base:   lo,
		count:  uint16(span),
		offset: make(map[string]uint16, len(labels)),
	}
	sorted := append([]Label(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Coil < sorted[j].Coil })
	for _, l := range sorted {
		b.labels = append(b.labels, l.Name)
		b.offset[l.Name] = uint16(l.Coil - lo)
	}
	return b, nil
}

// Base returns the lowest address of the run.
func (b *Bundle) Base() Coil { return b.base }

// Count returns the number of coils in the run.
func (b *Bundle) Count() uint16 { return b.count }

// Labels returns the labels in address order.
func (b *Bundle) Labels() []string {
	return append([]string(nil), b.labels...)
}

// Offset returns the position of label inside the run.
func (b *Bundle) Offset(label string) (uint16, bool) {
	off, ok := b.offset[label]
	return off, ok
}

// Map is the drive's register map, built once at start-up.
type Map struct {
	Run       Coil
	Forward   Coil
	Trip      Coil
	Reset     Coil
	Frequency Register
	Status    *Bundle
}

// Numbers holds the 1-based manual numbers a Map is built from.
type Numbers struct {
	Run       int
	Forward   int
	Trip      int
	Reset     int
	Frequency int
	Status    []StatusNumber
}

// StatusNumber names one coil of the status bundle.
type StatusNumber struct {
	Label  string
	Number int
}

// DefaultNumbers returns the X200 numbers.
func DefaultNumbers() Numbers {
	return Numbers{
		Run:       0x0001,
		Forward:   0x0002,
		Trip:      0x0003,
		Reset:     0x0004,
		Frequency: 0x0002,
		Status: []StatusNumber{
			{Label: "running", Number: 0x000E},
			{Label: "reverse", Number: 0x000F},
			{Label: "ready", Number: 0x0010},
			{Label: "alarm", Number: 0x0014},
			{Label: "at_speed", Number: 0x0018},
		},
	}
}

// New builds the map from manual numbers. An empty status list uses the
// X200 bundle.
func New(n Numbers) (*Map, error) {
	coil := func(name string, number int) (Coil, error) {
		addr, err := ToAddress(number)
		if err != nil {
			return 0, fmt.Errorf("register_map.%s: %w", name, err)
		}
		return Coil(addr), nil
	}

	var (
		m   Map
		err error
	)
	if m.Run, err = coil("run", n.Run); err != nil {
		return nil, err
	}
	if m.Forward, err = coil("forward", n.Forward); err != nil {
		return nil, err
	}
	if m.Trip, err = coil("trip", n.Trip); err != nil {
		return nil, err
	}
	if m.Reset, err = coil("reset", n.Reset); err != nil {
		return nil, err
	}
	freq, err := ToAddress(n.Frequency)
	if err != nil {
		return nil, fmt.Errorf("register_map.frequency: %w", err)
	}
	m.Frequency = Register(freq)

	status := n.Status
	if len(status) == 0 {
		status = DefaultNumbers().Status
	}
	labels := make([]Label, 0, len(status))
	for _, s := range status {
		c, err := coil("status."+s.Label, s.Number)
		if err != nil {
			return nil, err
		}
		labels = append(labels, Label{Name: s.Label, Coil: c})
	}
	if m.Status, err = NewBundle(labels); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default returns the X200 map.
func Default() *Map {
	m, err := New(DefaultNumbers())
	if err != nil {
		panic(err)
	}
	return m
}
