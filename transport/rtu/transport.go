// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/x200-tester/modbus"
	"github.com/ffutop/x200-tester/modbus/crc"
	rtupacket "github.com/ffutop/x200-tester/modbus/rtu"
	"github.com/ffutop/x200-tester/transport"
)

const (
	defaultReadTimeout  = 600 * time.Millisecond
	defaultWriteTimeout = 2 * time.Second

	// drainTimeout is the silence that ends a discard on deadline-capable channels.
	drainTimeout = 5 * time.Millisecond
	// drainLimit caps the bytes thrown away by a single discard.
	drainLimit = 1024
)

// Options tune a Transport.
type Options struct {
	// ReadTimeout is the longest silence tolerated before the first response
	// byte and between two response bytes.
	ReadTimeout time.Duration
	// WriteTimeout bounds the write of a request. It only applies to channels
	// implementing SetWriteDeadline (TCP); serial ports write without a bound.
	WriteTimeout time.Duration
	// Retry allows one retry after a missing or truncated response.
	Retry bool
	// BaudRate is used to compute character and frame delays; 0 uses the
	// fixed delays used for fast links.
	BaudRate int
	// Stats receives outcome counters; nil disables counting.
	Stats *transport.Stats
}

// Transport is the Modbus RTU master side of a half-duplex channel.
// Send is its single serialization point.
type Transport struct {
	Options

	mu           sync.Mutex
	ch           transport.Channel
	lastActivity time.Time
}

var _ transport.Transporter = (*Transport)(nil)

// NewTransport takes ownership of ch for request/response exchanges.
func NewTransport(ch transport.Channel, opts Options) *Transport {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Transport{Options: opts, ch: ch}
}

// Send writes request and returns the response frame. A missing or
// truncated response is retried once when Retry is set; every other failure
// is returned at once. ctx is only checked before a request goes on the
// wire: an exchange that has started runs to its own timeout.
func (mb *Transport) Send(ctx context.Context, request []byte) (response []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	attempts := 1
	if mb.Retry {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if ctx.Err() != nil {
				// keep the timeout kind visible to the caller
				return nil, err
			}
			mb.Stats.Inc(transport.CntRetries)
			slog.Warn("retrying modbus request", "request", hex.EncodeToString(request), "err", err)
		} else if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}

		response, err = mb.exchange(request)
		if err == nil || !modbus.IsRetryable(err) {
			return response, err
		}
	}
	return nil, err
}

// exchange runs one physical request/response. Caller must hold the mutex.
func (mb *Transport) exchange(request []byte) ([]byte, error) {
	mb.Stats.Inc(transport.CntRequests)

	// let t3.5 expire since the last activity on the line
	if wait := time.Until(mb.lastActivity.Add(mb.frameDelay())); wait > 0 {
		time.Sleep(wait)
	}

	if err := mb.write(request); err != nil {
		mb.Stats.Inc(transport.CntChannelError)
		return nil, err
	}
	slog.Debug("send to modbus slave", "request", hex.EncodeToString(request))

	response, err := mb.receive(request)
	mb.lastActivity = time.Now()
	switch {
	case err == nil:
		mb.Stats.Inc(transport.CntOK)
		slog.Debug("recv from modbus slave", "response", hex.EncodeToString(response))
		if !validCRC(response) {
			mb.discard()
		}
	case errors.Is(err, modbus.ErrNoResponse):
		mb.Stats.Inc(transport.CntNoResponse)
	case errors.Is(err, modbus.ErrTruncatedResponse):
		mb.Stats.Inc(transport.CntTruncated)
	default:
		var chErr *transport.ChannelError
		if errors.As(err, &chErr) {
			mb.Stats.Inc(transport.CntChannelError)
		} else {
			mb.Stats.Inc(transport.CntProtocol)
		}
	}
	if err != nil && !errors.As(err, new(*transport.ChannelError)) {
		mb.discard()
	}
	return response, err
}

// discard waits for the longest frame a slave could still be sending and
// throws away whatever arrives, so that the next exchange starts aligned.
// On a serial port each read blocks for up to the port timeout.
func (mb *Transport) discard() {
	time.Sleep(mb.charDelay() * rtupacket.MaxSize)

	buf := make([]byte, rtupacket.MaxSize)
	dropped := 0
	for dropped < drainLimit {
		if d, ok := mb.ch.(transport.ReadDeadliner); ok {
			if err := d.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
				break
			}
		}
		n, err := mb.ch.Read(buf)
		dropped += n
		if err != nil || n == 0 {
			break
		}
	}
	if dropped > 0 {
		slog.Debug("discarded stale bytes", "count", dropped)
	}
	mb.lastActivity = time.Now()
}

// write puts the whole request on the wire in one call.
func (mb *Transport) write(request []byte) error {
	if d, ok := mb.ch.(transport.WriteDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(mb.WriteTimeout)); err != nil {
			return &transport.ChannelError{Op: "write", Err: err}
		}
	}
	n, err := mb.ch.Write(request)
	mb.lastActivity = time.Now().Add(mb.charDelay() * time.Duration(n))
	if err != nil {
		return &transport.ChannelError{Op: "write", Err: err}
	}
	if n != len(request) {
		return &transport.ChannelError{Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}

// receive reads until the framer reports a complete frame or the line stays
// silent for ReadTimeout.
func (mb *Transport) receive(request []byte) ([]byte, error) {
	framer := rtupacket.NewFramer(request)
	buf := make([]byte, rtupacket.MaxSize)

	// the first byte cannot arrive before the request has left the UART
	timeout := mb.ReadTimeout + time.Until(mb.lastActivity)
	for {
		if d, ok := mb.ch.(transport.ReadDeadliner); ok {
			if err := d.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, &transport.ChannelError{Op: "read", Err: err}
			}
		}
		timeout = mb.ReadTimeout

		n, err := mb.ch.Read(buf)
		if n > 0 {
			done, ferr := framer.Push(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if done {
				return framer.Bytes(), nil
			}
		}
		if err == nil && n > 0 {
			continue
		}
		if err != nil && !isSilence(err) {
			return nil, &transport.ChannelError{Op: "read", Err: err}
		}
		// silence: the port timed out or returned nothing
		if framer.Len() == 0 {
			return nil, fmt.Errorf("%w: slave '%v' function '%v' after %v", modbus.ErrNoResponse, request[0], request[1], mb.ReadTimeout)
		}
		slog.Debug("truncated response", "received", hex.EncodeToString(framer.Bytes()))
		return nil, fmt.Errorf("%w: received %v bytes '%s'", modbus.ErrTruncatedResponse, framer.Len(), hex.EncodeToString(framer.Bytes()))
	}
}

// validCRC reports whether the trailing checksum of frame matches its content.
func validCRC(frame []byte) bool {
	n := len(frame) - 2
	if n < 0 {
		return false
	}
	sum := crc.Checksum(frame[:n])
	return frame[n] == byte(sum) && frame[n+1] == byte(sum>>8)
}

// isSilence reports whether err means no byte arrived within the read timeout.
func isSilence(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, serial.ErrTimeout) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// charDelay returns the time one character occupies the line.
func (mb *Transport) charDelay() time.Duration {
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 750 * time.Microsecond
	}
	return time.Duration(15000000/mb.BaudRate) * time.Microsecond
}

// frameDelay returns the silent interval that separates two frames.
func (mb *Transport) frameDelay() time.Duration {
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(35000000/mb.BaudRate) * time.Microsecond
}
