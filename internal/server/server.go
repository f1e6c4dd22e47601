// Package server implements the TCP front of the banking service: an
// accept loop dispatching one worker goroutine per connection, each
// performing exactly one request/response exchange before closing.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vaultbank/vaultbank/internal/auth"
	"github.com/vaultbank/vaultbank/internal/bank"
	"github.com/vaultbank/vaultbank/internal/metrics"
	"github.com/vaultbank/vaultbank/internal/pipeline"
)

// bufferSize is the read budget per connection. A request must fit in a
// single read; there is no length framing on the wire.
const bufferSize = 4096

// Server is the request-per-connection TCP server.
type Server struct {
	pipeline *pipeline.Pipeline
	auth     *auth.Service
	bank     *bank.Service
	metrics  *metrics.Collector
	log      *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a server. Zero timeouts default to five seconds.
func New(p *pipeline.Pipeline, a *auth.Service, b *bank.Service, m *metrics.Collector, readTimeout, writeTimeout time.Duration) *Server {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		pipeline:     p,
		auth:         a,
		bank:         b,
		metrics:      m,
		log:          slog.With("component", "server"),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Listen binds the TCP listener and starts the accept loop.
func (s *Server) Listen(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.log.Info("banking server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Addr returns the bound listener address. Useful with port 0 in tests.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.log.Error("accept error", "err", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the listener to unblock the accept loop, then waits for
// in-flight workers to finish their single exchange.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.log.Info("banking server stopped")
}
