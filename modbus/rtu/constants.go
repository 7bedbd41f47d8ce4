// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// requestSize is the length of every request this package encodes:
	// slave, function, two 16-bit fields and the CRC.
	requestSize = 8
	// writeAckSize is the length of a write single coil/register echo.
	writeAckSize = 8
)
