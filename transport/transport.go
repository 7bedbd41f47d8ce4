// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/x200-tester/modbus"
)

// Transporter runs one request/response exchange on the bus.
// It takes a raw Application Data Unit (ADU) and returns the response ADU.
//
// Implementations serialize exchanges: Send returns only after the exchange
// (including any retry) has finished, and concurrent callers wait for it.
type Transporter interface {
	Send(ctx context.Context, request []byte) ([]byte, error)
}

// RequestHandler answers a request addressed to a slave. The simulated
// drive implements it; the RTU servers feed it with decoded frames.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Channel is the byte stream a transport owns. It is opened and configured
// by the application (baud rate, parity, device) and handed over as is.
//
// A Channel must not block forever on Read: either it implements
// SetReadDeadline (net.Conn does) or its Read returns after its own timeout
// when the line is silent (a serial port opened with a read timeout does).
type Channel interface {
	io.ReadWriter
}

// ReadDeadliner is implemented by channels with per-read deadlines.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// WriteDeadliner is implemented by channels with per-write deadlines.
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// ChannelError wraps a failure of the underlying channel itself.
// It is never retried: a failed write may already be on the wire.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
