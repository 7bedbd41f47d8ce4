// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"testing"

	gomodbus "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	"github.com/ffutop/x200-tester/modbus"
	"github.com/ffutop/x200-tester/modbus/crc"
)

func TestEncode(t *testing.T) {
	t.Run("WriteBitOn", func(t *testing.T) {
		assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00, 0x8C, 0x3A}, EncodeWriteBit(1, 0, true))
	})
	t.Run("WriteBitOff", func(t *testing.T) {
		assert.Equal(t, crc.Append([]byte{0x01, 0x05, 0x00, 0x01, 0x00, 0x00}), EncodeWriteBit(1, 1, false))
	})
	t.Run("ReadRegister", func(t *testing.T) {
		assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x01, 0xD5, 0xCA}, EncodeReadRegister(1, 1))
	})
	t.Run("WriteRegister", func(t *testing.T) {
		assert.Equal(t, crc.Append([]byte{0x01, 0x06, 0x00, 0x01, 0x01, 0x2C}), EncodeWriteRegister(1, 1, 300))
	})
	t.Run("ReadBits", func(t *testing.T) {
		raw, err := EncodeReadBits(1, 13, 11)
		require.NoError(t, err)
		assert.Equal(t, crc.Append([]byte{0x01, 0x01, 0x00, 0x0D, 0x00, 0x0B}), raw)
	})
}

func TestEncodeReadBits_Count(t *testing.T) {
	for _, count := range []uint16{0, modbus.MaxReadBits + 1, 0xFFFF} {
		_, err := EncodeReadBits(1, 0, count)
		assert.ErrorIs(t, err, modbus.ErrInvalidArgument, "count %d", count)
	}
	for _, count := range []uint16{1, 8, modbus.MaxReadBits} {
		_, err := EncodeReadBits(1, 0, count)
		assert.NoError(t, err, "count %d", count)
	}
	_, err := EncodeReadBits(1, 0xFFFF, 2)
	assert.ErrorIs(t, err, modbus.ErrInvalidArgument)
}

func TestDecodeReadBits(t *testing.T) {
	request, err := EncodeReadBits(1, 0, 5)
	require.NoError(t, err)

	t.Run("LSBFirst", func(t *testing.T) {
		frame := crc.Append([]byte{0x01, 0x01, 0x01, 0b00010011})
		bits, err := DecodeReadBits(request, frame, 5)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, true, false, false, true}, bits)
	})

	t.Run("CRCMismatch", func(t *testing.T) {
		frame := crc.Append([]byte{0x01, 0x01, 0x01, 0b00010011})
		frame[3] ^= 0x01
		_, err := DecodeReadBits(request, frame, 5)
		assert.ErrorIs(t, err, modbus.ErrCRCMismatch)
		assert.NotErrorIs(t, err, modbus.ErrProtocol)
	})

	t.Run("ByteCountMismatch", func(t *testing.T) {
		frame := crc.Append([]byte{0x01, 0x01, 0x02, 0x13, 0x00})
		_, err := DecodeReadBits(request, frame, 5)
		assert.ErrorIs(t, err, modbus.ErrProtocol)
	})

	t.Run("FunctionMismatch", func(t *testing.T) {
		frame := crc.Append([]byte{0x01, 0x03, 0x01, 0x13})
		_, err := DecodeReadBits(request, frame, 5)
		assert.ErrorIs(t, err, modbus.ErrProtocol)
	})

	t.Run("SlaveMismatch", func(t *testing.T) {
		frame := crc.Append([]byte{0x02, 0x01, 0x01, 0x13})
		_, err := DecodeReadBits(request, frame, 5)
		assert.ErrorIs(t, err, modbus.ErrProtocol)
	})

	t.Run("Exception", func(t *testing.T) {
		frame := crc.Append([]byte{0x01, 0x81, modbus.ExceptionCodeIllegalDataAddress})
		_, err := DecodeReadBits(request, frame, 5)
		var exc *modbus.ExceptionError
		require.ErrorAs(t, err, &exc)
		assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), exc.ExceptionCode)
		assert.Contains(t, exc.Error(), "illegal data address")
	})
}

func TestDecodeReadBits_StatusBundle(t *testing.T) {
	// running, ready and at_speed of the 13..23 bundle
	request, err := EncodeReadBits(1, 13, 11)
	require.NoError(t, err)
	frame := crc.Append([]byte{0x01, 0x01, 0x02, 0b00000101, 0b00000100})
	bits, err := DecodeReadBits(request, frame, 11)
	require.NoError(t, err)
	require.Len(t, bits, 11)
	assert.True(t, bits[0])
	assert.False(t, bits[1])
	assert.True(t, bits[2])
	assert.False(t, bits[7])
	assert.True(t, bits[10])
}

func TestDecodeReadRegister(t *testing.T) {
	request := EncodeReadRegister(1, 1)

	value, err := DecodeReadRegister(request, crc.Append([]byte{0x01, 0x03, 0x02, 0x01, 0x2C}))
	require.NoError(t, err)
	assert.Equal(t, uint16(300), value)

	_, err = DecodeReadRegister(request, crc.Append([]byte{0x01, 0x03, 0x04, 0x01, 0x2C, 0x00, 0x00}))
	assert.ErrorIs(t, err, modbus.ErrProtocol)

	_, err = DecodeReadRegister(request, crc.Append([]byte{0x01, 0x83, modbus.ExceptionCodeServerDeviceBusy}))
	var exc *modbus.ExceptionError
	assert.ErrorAs(t, err, &exc)
}

func TestDecodeWriteAck(t *testing.T) {
	request := EncodeWriteRegister(1, 1, 50)

	assert.NoError(t, DecodeWriteAck(request, request, 1, 50))

	echo := EncodeWriteRegister(1, 1, 51)
	err := DecodeWriteAck(request, echo, 1, 50)
	assert.ErrorIs(t, err, modbus.ErrUnexpectedEcho)
	assert.NotErrorIs(t, err, modbus.ErrCRCMismatch)

	bit := EncodeWriteBit(1, 1, true)
	assert.NoError(t, DecodeWriteBitAck(bit, bit, 1, true))
	assert.ErrorIs(t, DecodeWriteBitAck(bit, EncodeWriteBit(1, 1, false), 1, true), modbus.ErrUnexpectedEcho)
}

func TestDecodeException(t *testing.T) {
	exc, err := DecodeException(crc.Append([]byte{0x01, 0x85, modbus.ExceptionCodeIllegalDataValue}))
	require.NoError(t, err)
	require.NotNil(t, exc)
	assert.Equal(t, byte(0x85), exc.FunctionCode)
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataValue), exc.ExceptionCode)

	exc, err = DecodeException(EncodeWriteBit(1, 0, true))
	require.NoError(t, err)
	assert.Nil(t, exc)

	bad := crc.Append([]byte{0x01, 0x85, 0x03})
	bad[4] ^= 0xFF
	_, err = DecodeException(bad)
	assert.ErrorIs(t, err, modbus.ErrCRCMismatch)
}

func TestPackUnpackBits(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true, true, false}
	packed := PackBits(bits)
	assert.Equal(t, []byte{0b00001101, 0b00000011}, packed)
	assert.Equal(t, bits, UnpackBits(packed, len(bits)))
	// short data leaves the remaining bits false
	assert.Equal(t, []bool{false, false, false}, UnpackBits([]byte{}, 3))
}

// TestEncode_GoburrowPackager checks our frames against an independent RTU packager.
func TestEncode_GoburrowPackager(t *testing.T) {
	handler := gomodbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 1

	readBits, err := EncodeReadBits(1, 13, 11)
	require.NoError(t, err)

	cases := []struct {
		name string
		ours []byte
		pdu  gomodbus.ProtocolDataUnit
	}{
		{"ReadBits", readBits, gomodbus.ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x00, 0x0D, 0x00, 0x0B}}},
		{"ReadRegister", EncodeReadRegister(1, 1), gomodbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x01, 0x00, 0x01}}},
		{"WriteBit", EncodeWriteBit(1, 3, true), gomodbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0x03, 0xFF, 0x00}}},
		{"WriteRegister", EncodeWriteRegister(1, 1, 1000), gomodbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x00, 0x01, 0x03, 0xE8}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			theirs, err := handler.Encode(&tc.pdu)
			require.NoError(t, err)
			assert.Equal(t, theirs, tc.ours)

			pdu, err := handler.Decode(tc.ours)
			require.NoError(t, err)
			assert.Equal(t, tc.pdu.FunctionCode, pdu.FunctionCode)
			assert.Equal(t, tc.pdu.Data, pdu.Data)
		})
	}
}

// TestEncode_MbserverFrame parses our frames with the RTU frame parser of a slave implementation.
func TestEncode_MbserverFrame(t *testing.T) {
	raw := EncodeWriteRegister(1, 1, 150)
	frame, err := mbserver.NewRTUFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), frame.Address)
	assert.Equal(t, uint8(modbus.FuncCodeWriteSingleRegister), frame.Function)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x96}, frame.Data)

	raw[len(raw)-1] ^= 0xFF
	_, err = mbserver.NewRTUFrame(raw)
	assert.Error(t, err)
}
