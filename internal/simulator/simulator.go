// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator is an in-process stand-in for the drive. It answers
// the four function codes the tester uses and derives the status coils
// from the command coils the way the drive does.
package simulator

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/simulator/model"
	"github.com/ffutop/x200-tester/internal/simulator/persistence"
	"github.com/ffutop/x200-tester/modbus"
	"github.com/ffutop/x200-tester/transport/rtu"
)

// Status labels the simulator drives. Labels missing from the map's
// status bundle are skipped.
const (
	LabelRunning = "running"
	LabelReverse = "reverse"
	LabelReady   = "ready"
	LabelAlarm   = "alarm"
	LabelAtSpeed = "at_speed"
)

// Simulator implements the drive on top of a DataModel.
type Simulator struct {
	slaveID byte
	regs    *regmap.Map
	model   *model.DataModel
	storage persistence.Storage
}

// New restores the drive state from storage.
func New(slaveID byte, regs *regmap.Map, storage persistence.Storage) (*Simulator, error) {
	s := &Simulator{
		slaveID: slaveID,
		regs:    regs,
		model:   model.NewDataModel(),
		storage: storage,
	}
	s.model.Lock()
	defer s.model.Unlock()
	if err := storage.Load(s.model); err != nil {
		return nil, err
	}
	s.update()
	s.persistStatus()
	return s, nil
}

// Serve answers requests arriving on port until ctx is done or the port
// fails.
func (s *Simulator) Serve(ctx context.Context, port io.ReadWriter) error {
	slog.Info("Simulated drive serving", "slave", s.slaveID)
	return rtu.Serve(ctx, port, s.Handle)
}

// Handle processes one request. Requests for other slaves get no answer.
func (s *Simulator) Handle(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if slaveID != s.slaveID {
		return modbus.ProtocolDataUnit{}, nil
	}
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		if value < 1 || value > modbus.MaxReadBits {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
		}
		data, err := s.model.ReadCoils(address, value)
		if err != nil {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
		}
		return readResponse(req.FunctionCode, data), nil
	case modbus.FuncCodeReadHoldingRegister:
		if value < 1 || value > 125 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
		}
		data, err := s.model.ReadHoldingRegisters(address, value)
		if err != nil {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
		}
		return readResponse(req.FunctionCode, data), nil
	case modbus.FuncCodeWriteSingleCoil:
		if value != modbus.CoilOn && value != modbus.CoilOff {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
		}
		s.writeCoil(address, value == modbus.CoilOn)
		return req, nil
	case modbus.FuncCodeWriteSingleRegister:
		s.writeRegister(address, value)
		return req, nil
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction), nil
	}
}

// Close flushes and releases the storage.
func (s *Simulator) Close() error {
	s.model.RLock()
	err := s.storage.Save(s.model)
	s.model.RUnlock()
	if err != nil {
		slog.Warn("Failed to save simulator state", "err", err)
	}
	return s.storage.Close()
}

func (s *Simulator) writeCoil(address uint16, on bool) {
	s.model.Lock()
	defer s.model.Unlock()

	switch regmap.Coil(address) {
	case s.regs.Trip:
		// trip and reset are momentary
		if on {
			s.setStatus(LabelAlarm, true)
			s.model.SetCoil(uint16(s.regs.Run), false)
			s.storage.OnWrite(s.model, model.TableCoils, uint16(s.regs.Run), 1)
			slog.Info("Simulated drive tripped")
		}
	case s.regs.Reset:
		if on {
			s.setStatus(LabelAlarm, false)
			slog.Info("Simulated drive reset")
		}
	default:
		s.model.SetCoil(address, on)
		s.storage.OnWrite(s.model, model.TableCoils, address, 1)
	}
	s.update()
	s.persistStatus()
}

func (s *Simulator) writeRegister(address, value uint16) {
	s.model.Lock()
	defer s.model.Unlock()
	s.model.SetRegister(address, value)
	s.storage.OnWrite(s.model, model.TableHoldingRegisters, address, 1)
	s.update()
	s.persistStatus()
}

// persistStatus stores the status bundle after update. The caller holds
// the model lock.
func (s *Simulator) persistStatus() {
	s.storage.OnWrite(s.model, model.TableCoils, uint16(s.regs.Status.Base()), s.regs.Status.Count())
}

// update derives the status coils from the command coils. The caller
// holds the model lock.
func (s *Simulator) update() {
	alarm := s.status(LabelAlarm)
	running := s.model.Coil(uint16(s.regs.Run)) && !alarm
	s.setStatus(LabelRunning, running)
	s.setStatus(LabelReverse, !s.model.Coil(uint16(s.regs.Forward)))
	s.setStatus(LabelReady, !alarm)
	s.setStatus(LabelAtSpeed, running && s.model.Register(uint16(s.regs.Frequency)) != 0)
}

func (s *Simulator) status(label string) bool {
	off, ok := s.regs.Status.Offset(label)
	if !ok {
		return false
	}
	return s.model.Coil(uint16(s.regs.Status.Base()) + off)
}

func (s *Simulator) setStatus(label string, on bool) {
	off, ok := s.regs.Status.Offset(label)
	if !ok {
		return
	}
	s.model.SetCoil(uint16(s.regs.Status.Base())+off, on)
}

func readResponse(funcCode byte, data []byte) modbus.ProtocolDataUnit {
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode,
		Data:         respData,
	}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionBit,
		Data:         []byte{code},
	}
}
