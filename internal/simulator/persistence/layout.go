// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/simulator/model"
)

// magic starts every state record.
var magic = []byte("X2S1")

// Layout places the persisted part of the drive memory in a state record:
// the run and forward command coils, the status bundle and the frequency
// register. Trip and reset are momentary and not stored.
//
// Record: magic, one byte per coil, then registers big endian.
type Layout struct {
	coils     []span
	registers []span
	size      int
}

// span is a run of consecutive addresses stored from offset on.
type span struct {
	address int
	count   int
	offset  int
}

// NewLayout derives the record layout from the drive's register map.
func NewLayout(regs *regmap.Map) *Layout {
	l := &Layout{size: len(magic)}
	l.coils = []span{
		l.add(int(regs.Run), 1, 1),
		l.add(int(regs.Forward), 1, 1),
		l.add(int(regs.Status.Base()), int(regs.Status.Count()), 1),
	}
	l.registers = []span{
		l.add(int(regs.Frequency), 1, 2),
	}
	return l
}

func (l *Layout) add(address, count, width int) span {
	s := span{address: address, count: count, offset: l.size}
	l.size += count * width
	return s
}

// Size returns the record length in bytes.
func (l *Layout) Size() int { return l.size }

// Encode copies the persisted cells of table within [address,
// address+quantity) from m into buf and returns the byte range it touched;
// lo == hi when no persisted cell is in range. The caller holds the model
// lock.
func (l *Layout) Encode(m *model.DataModel, buf []byte, table model.TableType, address, quantity uint16) (lo, hi int) {
	return l.encode(m, buf, table, int(address), int(address)+int(quantity))
}

func (l *Layout) encode(m *model.DataModel, buf []byte, table model.TableType, first, last int) (lo, hi int) {
	spans, width := l.table(table)
	lo, hi = l.size, 0
	for _, s := range spans {
		from, to := max(first, s.address), min(last, s.address+s.count)
		for a := from; a < to; a++ {
			off := s.offset + (a-s.address)*width
			if width == 1 {
				buf[off] = 0
				if m.Coil(uint16(a)) {
					buf[off] = 1
				}
			} else {
				binary.BigEndian.PutUint16(buf[off:], m.Register(uint16(a)))
			}
			lo, hi = min(lo, off), max(hi, off+width)
		}
	}
	if hi == 0 {
		return 0, 0
	}
	return lo, hi
}

// encodeAll writes a complete record of m into buf.
func (l *Layout) encodeAll(m *model.DataModel, buf []byte) {
	copy(buf, magic)
	l.encode(m, buf, model.TableCoils, 0, model.MaxAddress+1)
	l.encode(m, buf, model.TableHoldingRegisters, 0, model.MaxAddress+1)
}

// decode restores the cells of a record into m. The caller holds the
// model lock.
func (l *Layout) decode(buf []byte, m *model.DataModel) error {
	if len(buf) != l.size || !bytes.HasPrefix(buf, magic) {
		return fmt.Errorf("state record does not match the register map")
	}
	for _, s := range l.coils {
		for i := 0; i < s.count; i++ {
			m.SetCoil(uint16(s.address+i), buf[s.offset+i] != 0)
		}
	}
	for _, s := range l.registers {
		for i := 0; i < s.count; i++ {
			m.SetRegister(uint16(s.address+i), binary.BigEndian.Uint16(buf[s.offset+2*i:]))
		}
	}
	return nil
}

func (l *Layout) table(t model.TableType) ([]span, int) {
	if t == model.TableHoldingRegisters {
		return l.registers, 2
	}
	return l.coils, 1
}

// resize makes f exactly one record long. It reports whether the file
// had to be reset, in which case its content is meaningless.
func (l *Layout) resize(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == int64(l.size) {
		return false, nil
	}
	if err := f.Truncate(0); err != nil {
		return false, fmt.Errorf("failed to reset state file: %w", err)
	}
	if err := f.Truncate(int64(l.size)); err != nil {
		return false, fmt.Errorf("failed to resize state file: %w", err)
	}
	return true, nil
}
