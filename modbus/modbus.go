// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package modbus holds the protocol data unit, function and exception codes and
the error kinds shared by the RTU codec, the transport and the drive
controller.
*/
package modbus

import "fmt"

// Function codes used by the drive controller.
const (
	FuncCodeReadCoils           = 0x01
	FuncCodeReadHoldingRegister = 0x03
	FuncCodeWriteSingleCoil     = 0x05
	FuncCodeWriteSingleRegister = 0x06

	// ExceptionBit is set in the function code of an exception response.
	ExceptionBit = 0x80
)

const (
	ExceptionCodeIllegalFunction        = 0x01
	ExceptionCodeIllegalDataAddress     = 0x02
	ExceptionCodeIllegalDataValue       = 0x03
	ExceptionCodeServerDeviceFailure    = 0x04
	ExceptionCodeAcknowledge            = 0x05
	ExceptionCodeServerDeviceBusy       = 0x06
	ExceptionCodeMemoryParityError      = 0x08
	ExceptionCodeGatewayPathUnavailable = 0x0A
	ExceptionCodeGatewayTargetNoResp    = 0x0B
)

// Coil values on the wire for write single coil.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// MaxReadBits is the largest quantity a read coils request may ask for.
const MaxReadBits = 2000

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ExceptionError is returned when the slave answers with an exception response.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetNoResp:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&^ExceptionBit)
}
