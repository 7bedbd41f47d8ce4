// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/x200-tester/internal/config"
	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/simulator"
	"github.com/ffutop/x200-tester/internal/simulator/persistence"
	"github.com/ffutop/x200-tester/transport"
	"github.com/ffutop/x200-tester/transport/rtu"
	rtuovertcp "github.com/ffutop/x200-tester/transport/rtu-over-tcp"
)

// link is the opened channel to the drive plus whatever keeps it alive.
type link struct {
	ch       transport.Channel
	baudRate int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []io.Closer
	sim     io.Closer
}

// Close stops the simulator, if any, and releases the channel.
func (l *link) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.wg.Wait()
	if l.sim != nil {
		if err := l.sim.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *link) goServe(name string, fn func() error) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := fn(); err != nil {
			slog.Debug("simulator stopped", "via", name, "err", err)
		}
	}()
}

// openLink opens the channel named by the configuration. With the
// simulator enabled the drive is served in-process: over a pipe for "rtu",
// or over a loopback RTU over TCP server for "rtu-over-tcp".
func openLink(ctx context.Context, cfg *config.Config, regs *regmap.Map) (*link, error) {
	if cfg.Simulator.Enabled {
		return openSimulated(ctx, cfg, regs)
	}

	switch cfg.Link.Type {
	case config.LinkRTU:
		port, err := rtu.OpenSerial(cfg.Link.Serial, cfg.Transport.ReadTimeout)
		if err != nil {
			return nil, err
		}
		return &link{ch: port, baudRate: cfg.Link.Serial.BaudRate, closers: []io.Closer{port}}, nil
	case config.LinkRTUOverTCP:
		conn, err := rtuovertcp.Dial(ctx, cfg.Link.Tcp)
		if err != nil {
			return nil, err
		}
		return &link{ch: conn, closers: []io.Closer{conn}}, nil
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Link.Type)
	}
}

func openSimulated(ctx context.Context, cfg *config.Config, regs *regmap.Map) (*link, error) {
	storage, err := persistence.Open(cfg.Simulator.Persistence, regs)
	if err != nil {
		return nil, err
	}
	sim, err := simulator.New(byte(cfg.SlaveID), regs, storage)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load simulator state: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &link{cancel: cancel, sim: sim}

	switch cfg.Link.Type {
	case config.LinkRTUOverTCP:
		srv := rtuovertcp.NewServer(cfg.Simulator.Listen)
		l.closers = append(l.closers, srv)
		l.goServe("rtu-over-tcp", func() error { return srv.Start(ctx, sim.Handle) })
		addr, err := srv.Addr(ctx)
		if err != nil {
			l.Close()
			return nil, err
		}
		tcpCfg := cfg.Link.Tcp
		tcpCfg.Address = addr.String()
		conn, err := rtuovertcp.Dial(ctx, tcpCfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.ch = conn
		l.closers = append(l.closers, conn)
	default:
		master, slave := net.Pipe()
		l.ch = master
		l.closers = append(l.closers, slave, master)
		l.goServe("pipe", func() error { return sim.Serve(ctx, slave) })
	}
	return l, nil
}
