// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package vfd speaks to the drive in terms of its controls: run, direction,
// trip, reset, status and operating frequency.
package vfd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/modbus"
	rtupacket "github.com/ffutop/x200-tester/modbus/rtu"
	"github.com/ffutop/x200-tester/transport"
)

// Drive is one drive on the bus.
type Drive struct {
	transporter transport.Transporter
	slaveID     byte
	regs        *regmap.Map
	stats       *transport.Stats
}

// New returns a Drive. stats may be nil.
func New(t transport.Transporter, slaveID byte, regs *regmap.Map, stats *transport.Stats) *Drive {
	return &Drive{
		transporter: t,
		slaveID:     slaveID,
		regs:        regs,
		stats:       stats,
	}
}

// ReadStatus reads the whole status bundle with one request.
func (d *Drive) ReadStatus(ctx context.Context) (Status, error) {
	bundle := d.regs.Status
	bits, err := d.readBits(ctx, uint16(bundle.Base()), bundle.Count())
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	st := Status{
		labels: bundle.Labels(),
		values: make(map[string]bool),
	}
	for _, label := range st.labels {
		off, _ := bundle.Offset(label)
		st.values[label] = bits[off]
	}
	return st, nil
}

// ReadCoil reads a single coil by its manual number.
func (d *Drive) ReadCoil(ctx context.Context, number int) (bool, error) {
	addr, err := regmap.ToAddress(number)
	if err != nil {
		return false, err
	}
	bits, err := d.readBits(ctx, addr, 1)
	if err != nil {
		return false, fmt.Errorf("read coil %d: %w", number, err)
	}
	return bits[0], nil
}

// SetRun starts or stops the motor.
func (d *Drive) SetRun(ctx context.Context, run bool) error {
	if err := d.writeBit(ctx, d.regs.Run, run); err != nil {
		return fmt.Errorf("set run %v: %w", run, err)
	}
	return nil
}

// SetReverse selects the direction. The drive's coil commands forward
// rotation, so the value written is inverted.
func (d *Drive) SetReverse(ctx context.Context, reverse bool) error {
	if err := d.writeBit(ctx, d.regs.Forward, !reverse); err != nil {
		return fmt.Errorf("set reverse %v: %w", reverse, err)
	}
	return nil
}

// Trip raises an external trip.
func (d *Drive) Trip(ctx context.Context) error {
	if err := d.writeBit(ctx, d.regs.Trip, true); err != nil {
		return fmt.Errorf("trip: %w", err)
	}
	return nil
}

// Reset clears an alarm. It returns once the drive acknowledged the write,
// not when the alarm is gone.
func (d *Drive) Reset(ctx context.Context) error {
	if err := d.writeBit(ctx, d.regs.Reset, true); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ReadFrequency returns the raw operating frequency register.
func (d *Drive) ReadFrequency(ctx context.Context) (uint16, error) {
	req := rtupacket.EncodeReadRegister(d.slaveID, uint16(d.regs.Frequency))
	frame, err := d.send(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("read frequency: %w", err)
	}
	value, err := rtupacket.DecodeReadRegister(req, frame)
	if err != nil {
		d.count(err)
		return 0, fmt.Errorf("read frequency: %w", err)
	}
	return value, nil
}

// WriteFrequency sets the raw operating frequency register.
func (d *Drive) WriteFrequency(ctx context.Context, value uint16) error {
	addr := uint16(d.regs.Frequency)
	req := rtupacket.EncodeWriteRegister(d.slaveID, addr, value)
	frame, err := d.send(ctx, req)
	if err == nil {
		if err = rtupacket.DecodeWriteAck(req, frame, addr, value); err != nil {
			d.count(err)
		}
	}
	if err != nil {
		return fmt.Errorf("write frequency %d: %w", value, err)
	}
	return nil
}

func (d *Drive) readBits(ctx context.Context, address, count uint16) ([]bool, error) {
	req, err := rtupacket.EncodeReadBits(d.slaveID, address, count)
	if err != nil {
		return nil, err
	}
	frame, err := d.send(ctx, req)
	if err != nil {
		return nil, err
	}
	bits, err := rtupacket.DecodeReadBits(req, frame, count)
	if err != nil {
		d.count(err)
		return nil, err
	}
	return bits, nil
}

func (d *Drive) writeBit(ctx context.Context, coil regmap.Coil, value bool) error {
	addr := uint16(coil)
	req := rtupacket.EncodeWriteBit(d.slaveID, addr, value)
	frame, err := d.send(ctx, req)
	if err != nil {
		return err
	}
	if err := rtupacket.DecodeWriteBitAck(req, frame, addr, value); err != nil {
		d.count(err)
		return err
	}
	return nil
}

func (d *Drive) send(ctx context.Context, req []byte) ([]byte, error) {
	frame, err := d.transporter.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Debug("exchange", "slave", d.slaveID, "request", hex.EncodeToString(req), "response", hex.EncodeToString(frame))
	return frame, nil
}

// count records decode failures; the transport counts everything up to a
// complete frame.
func (d *Drive) count(err error) {
	var mbErr *modbus.ExceptionError
	switch {
	case errors.As(err, &mbErr):
		d.stats.Inc(transport.CntException)
	case errors.Is(err, modbus.ErrCRCMismatch):
		d.stats.Inc(transport.CntCRCMismatch)
	case errors.Is(err, modbus.ErrUnexpectedEcho):
		d.stats.Inc(transport.CntUnexpectedEcho)
	default:
		d.stats.Inc(transport.CntProtocol)
	}
}
