// Package client sends authenticated requests to the banking server,
// one TCP connection per request.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vaultbank/vaultbank/internal/protocol"
)

// bufferSize mirrors the server's read budget; responses are far smaller.
const bufferSize = 4096

// Client holds the server address and the shared MAC key. It keeps no
// connection state; every call dials, exchanges once, and closes.
type Client struct {
	addr    string
	key     []byte
	timeout time.Duration
	log     *slog.Logger
}

// New creates a client for the server at addr ("host:port").
func New(addr string, key []byte) *Client {
	return &Client{
		addr:    addr,
		key:     key,
		timeout: 10 * time.Second,
		log:     slog.With("component", "client"),
	}
}

// Addr returns the server address this client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Register asks the server to create a user account.
func (c *Client) Register(ctx context.Context, username, password string) (protocol.Response, error) {
	return c.send(ctx, protocol.RegisterRequest{Username: username, Password: password})
}

// Login authenticates against the server.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.Response, error) {
	return c.send(ctx, protocol.LoginRequest{Username: username, Password: password})
}

// Transfer submits a transfer intent.
func (c *Client) Transfer(ctx context.Context, username, src, dst string, amount float64) (protocol.Response, error) {
	return c.send(ctx, protocol.TransferRequest{
		Username:      username,
		CuentaOrigen:  src,
		CuentaDestino: dst,
		Cantidad:      amount,
	})
}

func (c *Client) send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	raw, err := protocol.Pack(c.key, req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("packing request: %w", err)
	}
	return c.SendRaw(ctx, raw)
}

// SendRaw transmits already-serialized envelope bytes on a fresh
// connection and returns the decoded response. It exists so callers can
// retransmit captured bytes verbatim.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (protocol.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if t, ok := ctx.Deadline(); ok && t.Before(deadline) {
		deadline = t
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return protocol.Response{}, fmt.Errorf("setting deadline: %w", err)
	}

	if _, err := conn.Write(raw); err != nil {
		return protocol.Response{}, fmt.Errorf("sending request: %w", err)
	}

	buf := make([]byte, bufferSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return protocol.Response{}, fmt.Errorf("reading response: %w", err)
	}

	resp, err := protocol.DecodeResponse(buf[:n])
	if err != nil {
		return protocol.Response{}, err
	}
	c.log.Debug("response received", "status", resp.Status)
	return resp, nil
}
