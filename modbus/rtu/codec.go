// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/x200-tester/modbus"
)

func encode(slave, functionCode byte, address, value uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], value)
	adu := &ApplicationDataUnit{
		SlaveID: slave,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: functionCode, Data: data},
	}
	// four data bytes never exceed MaxSize
	raw, _ := adu.Encode()
	return raw
}

// EncodeReadBits encodes a read coils request for count coils starting at address.
func EncodeReadBits(slave byte, address, count uint16) ([]byte, error) {
	if count < 1 || count > modbus.MaxReadBits {
		return nil, fmt.Errorf("%w: coil count '%v' out of range [1, %v]", modbus.ErrInvalidArgument, count, modbus.MaxReadBits)
	}
	if int(address)+int(count) > 0x10000 {
		return nil, fmt.Errorf("%w: coil range %v+%v exceeds address space", modbus.ErrInvalidArgument, address, count)
	}
	return encode(slave, modbus.FuncCodeReadCoils, address, count), nil
}

// EncodeReadRegister encodes a read holding registers request for one register.
func EncodeReadRegister(slave byte, address uint16) []byte {
	return encode(slave, modbus.FuncCodeReadHoldingRegister, address, 1)
}

// EncodeWriteBit encodes a write single coil request.
func EncodeWriteBit(slave byte, address uint16, value bool) []byte {
	return encode(slave, modbus.FuncCodeWriteSingleCoil, address, coilValue(value))
}

// EncodeWriteRegister encodes a write single register request.
func EncodeWriteRegister(slave byte, address, value uint16) []byte {
	return encode(slave, modbus.FuncCodeWriteSingleRegister, address, value)
}

func coilValue(on bool) uint16 {
	if on {
		return modbus.CoilOn
	}
	return modbus.CoilOff
}

// DecodeException returns the exception carried by frame, or nil when frame
// is a normal response. The CRC is validated first.
func DecodeException(frame []byte) (*modbus.ExceptionError, error) {
	adu, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	if adu.Pdu.FunctionCode&modbus.ExceptionBit == 0 {
		return nil, nil
	}
	if len(adu.Pdu.Data) != 1 {
		return nil, fmt.Errorf("%w: exception response carries %v bytes", modbus.ErrProtocol, len(adu.Pdu.Data))
	}
	return exception(adu), nil
}

func exception(adu *ApplicationDataUnit) *modbus.ExceptionError {
	if adu.Pdu.FunctionCode&modbus.ExceptionBit == 0 || len(adu.Pdu.Data) < 1 {
		return nil
	}
	return &modbus.ExceptionError{
		FunctionCode:  adu.Pdu.FunctionCode,
		ExceptionCode: adu.Pdu.Data[0],
	}
}

// decodeResponse validates CRC, slave, function and exception state of frame
// against request and returns the response data.
func decodeResponse(request, frame []byte) ([]byte, error) {
	req, err := Decode(request)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	resp, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	if err := req.Verify(resp); err != nil {
		return nil, err
	}
	return resp.Pdu.Data, nil
}

// DecodeReadBits decodes the response to a read coils request and unpacks
// expectedCount bits, least significant bit first.
func DecodeReadBits(request, frame []byte, expectedCount uint16) ([]bool, error) {
	data, err := decodeResponse(request, frame)
	if err != nil {
		return nil, err
	}
	byteCount := (int(expectedCount) + 7) / 8
	if len(data) < 1 || int(data[0]) != byteCount {
		return nil, fmt.Errorf("%w: read coils byte count does not match '%v'", modbus.ErrProtocol, byteCount)
	}
	if len(data)-1 != byteCount {
		return nil, fmt.Errorf("%w: read coils payload length '%v' does not match byte count '%v'", modbus.ErrProtocol, len(data)-1, byteCount)
	}
	return UnpackBits(data[1:], int(expectedCount)), nil
}

// DecodeReadRegister decodes the response to a single register read.
func DecodeReadRegister(request, frame []byte) (uint16, error) {
	data, err := decodeResponse(request, frame)
	if err != nil {
		return 0, err
	}
	if len(data) != 3 || data[0] != 2 {
		return 0, fmt.Errorf("%w: read register payload '%X' is not a single word", modbus.ErrProtocol, data)
	}
	return binary.BigEndian.Uint16(data[1:]), nil
}

// DecodeWriteAck checks that frame echoes the address and value of a write
// single coil or write single register request.
func DecodeWriteAck(request, frame []byte, expectedAddress, expectedValue uint16) error {
	data, err := decodeResponse(request, frame)
	if err != nil {
		return err
	}
	if len(data) != 4 {
		return fmt.Errorf("%w: write response carries %v bytes", modbus.ErrUnexpectedEcho, len(data))
	}
	address := binary.BigEndian.Uint16(data[0:])
	value := binary.BigEndian.Uint16(data[2:])
	if address != expectedAddress || value != expectedValue {
		return fmt.Errorf("%w: echoed address '%v' value '%#04x', sent address '%v' value '%#04x'",
			modbus.ErrUnexpectedEcho, address, value, expectedAddress, expectedValue)
	}
	return nil
}

// DecodeWriteBitAck checks the echo of a write single coil request.
func DecodeWriteBitAck(request, frame []byte, expectedAddress uint16, expectedValue bool) error {
	return DecodeWriteAck(request, frame, expectedAddress, coilValue(expectedValue))
}

// UnpackBits expands count bits from data, least significant bit of each byte first.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count && i/8 < len(data); i++ {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out
}

// PackBits is the inverse of UnpackBits.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}
