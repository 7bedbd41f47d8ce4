// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/x200-tester/internal/config"
)

const (
	tcpTimeout = 10 * time.Second
)

// Dial connects to a serial device server that forwards raw RTU frames
// between TCP and the drive's serial line. The returned connection is a
// deadline-capable channel for the RTU transport; it is not reopened on
// failure.
func Dial(ctx context.Context, cfg config.TcpConfig) (net.Conn, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", cfg.Address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// frames are tiny and latency bound
		_ = tcp.SetNoDelay(true)
	}
	slog.Info("connected to RTU over TCP link", "addr", cfg.Address)
	return conn, nil
}
