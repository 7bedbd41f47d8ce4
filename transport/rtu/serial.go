// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/x200-tester/internal/config"
)

// SerialConfig maps the application settings onto a serial.Config.
// The port read timeout is the transport's inter-byte timeout, so a silent
// line makes Read return serial.ErrTimeout instead of blocking.
func SerialConfig(cfg config.SerialConfig, readTimeout time.Duration) *serial.Config {
	c := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  readTimeout,
	}
	if cfg.RS485 {
		c.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return c
}

// OpenSerial opens the serial port the drive hangs on. The port stays open
// until the caller closes it. It has no write deadline, so
// transport.write_timeout does not apply to it.
func OpenSerial(cfg config.SerialConfig, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	c := SerialConfig(cfg, readTimeout)
	slog.Info("open serial port", "device", c.Address, "baudRate", c.BaudRate, "dataBits", c.DataBits, "parity", c.Parity, "stopBits", c.StopBits, "rs485", c.RS485.Enabled)
	port, err := serial.Open(c)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", c.Address, err)
	}
	return port, nil
}
