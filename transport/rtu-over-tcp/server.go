// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/x200-tester/transport"
	"github.com/ffutop/x200-tester/transport/rtu"
)

// Server exposes a RequestHandler as a serial device server: every TCP
// connection carries raw RTU frames, one exchange at a time.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
	err      error
	ready    chan struct{}
	once     sync.Once
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
		ready:   make(chan struct{}),
	}
}

// Start listens and serves connections until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", s.Address, err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.once.Do(func() { close(s.ready) })
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
	slog.Info("RTU over TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept on %s: %w", s.Address, err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn, handler)
		}()
	}
}

// Addr blocks until the server listens and returns its address, or the
// error that kept it from listening.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.listener.Addr(), nil
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := rtu.Serve(ctx, conn, handler); err != nil {
		slog.Debug("RTU over TCP client gone", "addr", conn.RemoteAddr(), "err", err)
	}
}
