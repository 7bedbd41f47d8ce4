// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/x200-tester/modbus"
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

func (e *InvalidLengthError) Unwrap() error {
	return modbus.ErrProtocol
}

// ResponseLength returns the expected length of the response ADU to request.
// It returns 0 when the length cannot be known in advance.
func ResponseLength(request []byte) int {
	if len(request) < 2 {
		return 0
	}
	length := MinSize
	switch request[1] {
	case modbus.FuncCodeReadCoils:
		if len(request) < 6 {
			return 0
		}
		count := int(binary.BigEndian.Uint16(request[4:]))
		length += 1 + (count+7)/8
	case modbus.FuncCodeReadHoldingRegister:
		if len(request) < 6 {
			return 0
		}
		count := int(binary.BigEndian.Uint16(request[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		length += 4
	default:
		return 0
	}
	return length
}

// RequestLength returns the total length of a request ADU carrying funcCode.
func RequestLength(funcCode byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadHoldingRegister,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return requestSize, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// Framer assembles a response frame byte by byte and reports when it is complete.
//
// The expected length starts as the hint derived from the request. It is
// corrected once the function code shows an exception response, and once the
// byte count of a read response has arrived.
type Framer struct {
	functionCode byte
	expected     int
	buf          []byte
}

// NewFramer returns a Framer for the response to request.
func NewFramer(request []byte) *Framer {
	f := &Framer{
		expected: ResponseLength(request),
		buf:      make([]byte, 0, MaxSize),
	}
	if len(request) > 1 {
		f.functionCode = request[1]
	}
	return f
}

// Push appends received bytes. It returns true once a whole frame has been
// collected; bytes beyond the frame are dropped.
func (f *Framer) Push(b []byte) (bool, error) {
	for _, c := range b {
		if f.Complete() {
			break
		}
		f.buf = append(f.buf, c)
		switch len(f.buf) {
		case 2:
			if c&modbus.ExceptionBit != 0 {
				f.expected = ExceptionSize
			}
		case 3:
			if f.buf[1] != f.functionCode {
				continue
			}
			switch f.functionCode {
			case modbus.FuncCodeReadCoils, modbus.FuncCodeReadHoldingRegister:
				if c == 0 || int(c) > MaxSize-5 {
					return false, &InvalidLengthError{Length: c}
				}
				f.expected = 3 + int(c) + 2
			}
		}
		if len(f.buf) >= MaxSize {
			return true, nil
		}
	}
	return f.Complete(), nil
}

// Complete reports whether the expected number of bytes has been collected.
func (f *Framer) Complete() bool {
	return f.expected > 0 && len(f.buf) >= f.expected
}

// Len returns the number of bytes collected so far.
func (f *Framer) Len() int {
	return len(f.buf)
}

// Bytes returns the bytes collected so far.
func (f *Framer) Bytes() []byte {
	return f.buf
}
