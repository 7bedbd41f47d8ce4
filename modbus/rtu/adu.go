// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/x200-tester/modbus"
	"github.com/ffutop/x200-tester/modbus/crc"
)

// ApplicationDataUnit is a PDU addressed to a slave on the serial line.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode validates the CRC of raw and splits it into slave id and PDU.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = fmt.Errorf("%w: frame length '%v' does not meet minimum '%v'", modbus.ErrProtocol, length, MinSize)
		return
	}

	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if expected := crc.Checksum(raw[:length-2]); checksum != expected {
		err = fmt.Errorf("%w: frame crc '%#04x' does not match expected '%#04x'", modbus.ErrCRCMismatch, checksum, expected)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidArgument, length, MaxSize)
		return
	}
	raw = make([]byte, 0, length)
	raw = append(raw, adu.SlaveID, adu.Pdu.FunctionCode)
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}

// Verify checks that resp answers req: same slave, same function, and no
// exception. Exception responses are returned as *modbus.ExceptionError.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if req.SlaveID != resp.SlaveID {
		return fmt.Errorf("%w: response slave id '%v' does not match request '%v'", modbus.ErrProtocol, resp.SlaveID, req.SlaveID)
	}
	if exc := exception(resp); exc != nil {
		if exc.FunctionCode&^modbus.ExceptionBit != req.Pdu.FunctionCode {
			return fmt.Errorf("%w: exception for function '%v' does not match request '%v'", modbus.ErrProtocol, exc.FunctionCode&^modbus.ExceptionBit, req.Pdu.FunctionCode)
		}
		return exc
	}
	if resp.Pdu.FunctionCode != req.Pdu.FunctionCode {
		return fmt.Errorf("%w: response function '%v' does not match request '%v'", modbus.ErrProtocol, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
	}
	return nil
}
