package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vaultbank/vaultbank/internal/bank"
	"github.com/vaultbank/vaultbank/internal/pipeline"
	"github.com/vaultbank/vaultbank/internal/protocol"
)

// Missing-field messages per request type.
const (
	msgMissingRegister = "Faltan datos de registro"
	msgMissingLogin    = "Faltan credenciales"
	msgMissingTransfer = "Faltan datos de la transaccion"
	msgTransferFailed  = "Error al procesar la transferencia"
	msgInternalError   = "Error interno del servidor"
)

// handleConnection performs the single request/response exchange: read up
// to the buffer size, validate through the pipeline, dispatch by type,
// write the response, close. A worker never propagates a failure to the
// accept loop.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	remote := conn.RemoteAddr().String()
	start := time.Now()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.log.Error("setting read deadline", "remote", remote, "err", err)
		return
	}

	buf := make([]byte, bufferSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		// Peer closed or timed out without sending; drop silently.
		s.log.Debug("connection closed without data", "remote", remote)
		return
	}
	raw := buf[:n]

	req, err := s.pipeline.Validate(s.ctx, raw)
	if err != nil {
		var reject *pipeline.RejectError
		if errors.As(err, &reject) {
			s.metrics.Rejected(reject.Kind)
			s.metrics.Request("unknown", protocol.StatusError, time.Since(start))
			s.log.Warn("message rejected", "remote", remote, "kind", reject.Kind)
			s.respond(conn, protocol.Error(reject.Reason))
			return
		}
		s.log.Error("validation failed", "remote", remote, "err", err)
		s.respond(conn, protocol.Error(msgInternalError))
		return
	}

	s.log.Info("request accepted", "remote", remote, "tipo", req.Kind())
	resp := s.dispatch(s.ctx, req)
	s.metrics.Request(req.Kind(), resp.Status, time.Since(start))
	s.respond(conn, resp)
}

// dispatch routes the typed request to the auth or transaction module.
func (s *Server) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	switch r := req.(type) {
	case protocol.RegisterRequest:
		if r.Username == "" || r.Password == "" {
			return protocol.Error(msgMissingRegister)
		}
		ok, msg := s.auth.Register(ctx, r.Username, r.Password)
		if !ok {
			return protocol.Error(msg)
		}
		return protocol.OK(msg, nil)

	case protocol.LoginRequest:
		if r.Username == "" || r.Password == "" {
			return protocol.Error(msgMissingLogin)
		}
		ok, msg := s.auth.Login(ctx, r.Username, r.Password)
		if !ok {
			return protocol.Error(msg)
		}
		return protocol.OK(msg, nil)

	case protocol.TransferRequest:
		id, err := s.bank.Transfer(ctx, r)
		if err != nil {
			if errors.Is(err, bank.ErrMissingFields) {
				return protocol.Error(msgMissingTransfer)
			}
			s.log.Error("transfer failed", "err", err)
			return protocol.Error(msgTransferFailed)
		}
		return protocol.OK(fmt.Sprintf("Transferencia completada (ID: %d)", id), map[string]any{"id": id})

	default:
		// Unreachable: the pipeline only produces the three variants.
		return protocol.Error(pipeline.ReasonUnsupported)
	}
}

// respond writes one response and returns; a failed write is logged and
// the request considered dropped.
func (s *Server) respond(conn net.Conn, resp protocol.Response) {
	raw, err := resp.Encode()
	if err != nil {
		s.log.Error("encoding response", "err", err)
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		s.log.Error("setting write deadline", "err", err)
		return
	}
	if _, err := conn.Write(raw); err != nil {
		s.log.Warn("writing response", "remote", conn.RemoteAddr().String(), "err", err)
	}
}
