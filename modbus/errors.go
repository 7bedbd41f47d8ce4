// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "errors"

var (
	// ErrInvalidArgument indicates bad call parameters, e.g. a coil count out of range.
	ErrInvalidArgument = errors.New("modbus: invalid argument")

	// ErrProtocol indicates a well-formed frame whose content does not answer the request.
	ErrProtocol = errors.New("modbus: protocol error")

	// ErrCRCMismatch indicates a corrupted frame.
	ErrCRCMismatch = errors.New("modbus: crc mismatch")

	// ErrUnexpectedEcho indicates a write response that does not echo the request.
	// It usually means frame boundaries went out of sync rather than a flipped bit.
	ErrUnexpectedEcho = errors.New("modbus: unexpected echo")
)

var (
	// ErrNoResponse indicates that no byte arrived before the read timeout.
	ErrNoResponse = errors.New("modbus: no response")

	// ErrTruncatedResponse indicates that the line went silent in the middle of a frame.
	ErrTruncatedResponse = errors.New("modbus: truncated response")
)

// IsRetryable reports whether err is a timeout kind that a single retry may cure.
// CRC, echo and exception failures mean the slave did receive the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoResponse) || errors.Is(err, ErrTruncatedResponse)
}
