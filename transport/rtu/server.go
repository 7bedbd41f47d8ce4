// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/ffutop/x200-tester/modbus"
	rtupacket "github.com/ffutop/x200-tester/modbus/rtu"
	"github.com/ffutop/x200-tester/transport"
)

// Serve acts as a slave on port: it scans request frames, passes the ones
// with a valid CRC to handler and writes back the answer. A handler that
// returns a zero ProtocolDataUnit and no error leaves the request
// unanswered. Serve returns nil once ctx is done, or the error that ended
// the channel.
func Serve(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		// one byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				return err
			}
			continue
		}
		if n == 0 {
			continue
		}

		current := 1
		need := 2
		if current, err = readFull(port, buf, current, need); err != nil {
			if isClosed(err) {
				return err
			}
			continue
		}

		expectedLen, err := rtupacket.RequestLength(buf[1])
		if err != nil {
			slog.Debug("dropping request", "err", err, "head", hex.EncodeToString(buf[:current]))
			continue
		}
		if current, err = readFull(port, buf, current, expectedLen); err != nil {
			if isClosed(err) {
				return err
			}
			continue
		}

		req, err := rtupacket.Decode(buf[:current])
		if err != nil {
			slog.Debug("dropping request", "err", err, "frame", hex.EncodeToString(buf[:current]))
			continue
		}

		respPDU, err := handler(ctx, req.SlaveID, req.Pdu)
		if err != nil {
			respPDU = exceptionResponse(req.Pdu.FunctionCode, err)
		}
		if respPDU.FunctionCode == 0 {
			continue
		}

		resp := &rtupacket.ApplicationDataUnit{SlaveID: req.SlaveID, Pdu: respPDU}
		raw, err := resp.Encode()
		if err != nil {
			slog.Error("failed to encode response", "err", err)
			continue
		}
		if _, err := port.Write(raw); err != nil {
			if isClosed(err) {
				return err
			}
			slog.Warn("failed to write response", "err", err)
		}
	}
}

// readFull reads into buf[current:need] and returns the new fill level.
func readFull(port io.Reader, buf []byte, current, need int) (int, error) {
	for current < need {
		n, err := port.Read(buf[current:need])
		current += n
		if err != nil && current < need {
			return current, err
		}
	}
	return current, nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// exceptionResponse maps a handler failure to an exception PDU.
func exceptionResponse(funcCode byte, err error) modbus.ProtocolDataUnit {
	code := byte(modbus.ExceptionCodeServerDeviceFailure)
	var mbErr *modbus.ExceptionError
	if errors.As(err, &mbErr) {
		code = mbErr.ExceptionCode
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionBit,
		Data:         []byte{code},
	}
}
