// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableHoldingRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableHoldingRegisters:
		return "holding_registers"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// DataModel is the simulated drive's memory: coils and holding registers
// over the full 16-bit address space. Callers that combine several
// accesses into one transition hold Lock themselves and use the
// unlocked accessors.
type DataModel struct {
	sync.RWMutex

	// Coils stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// Holding registers.
	HoldingRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
	}
}

// ReadCoils reads a range of coils and returns them packed LSB first.
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if m.Coils[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

// ReadHoldingRegisters reads a range of holding registers as big endian bytes.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], m.HoldingRegisters[int(address)+i])
	}
	return result, nil
}

// Coil returns one coil. The caller holds the lock.
func (m *DataModel) Coil(address uint16) bool {
	return m.Coils[address] != 0
}

// SetCoil sets one coil. The caller holds the lock.
func (m *DataModel) SetCoil(address uint16, on bool) {
	if on {
		m.Coils[address] = 1
	} else {
		m.Coils[address] = 0
	}
}

// Register returns one holding register. The caller holds the lock.
func (m *DataModel) Register(address uint16) uint16 {
	return m.HoldingRegisters[address]
}

// SetRegister sets one holding register. The caller holds the lock.
func (m *DataModel) SetRegister(address, value uint16) {
	m.HoldingRegisters[address] = value
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("address range out of bounds")
	}
	return nil
}
