// Package protocol defines the wire format of the banking service: an
// outer envelope carrying a base64 payload, its MAC, and a single-use
// nonce, and the typed requests found inside the payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/vaultbank/vaultbank/internal/crypto"
)

// Request type discriminators carried in the payload's "tipo" field.
const (
	KindRegister = "registro"
	KindLogin    = "login"
	KindTransfer = "transaccion"
)

var (
	// ErrMalformedEnvelope indicates the outer envelope could not be
	// parsed: invalid JSON, missing fields, wrong field widths, or
	// invalid UTF-8.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnsupportedType indicates an unknown "tipo" discriminator.
	ErrUnsupportedType = errors.New("unsupported message type")
	// ErrMalformedPayload indicates the inner payload could not be parsed.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Envelope is the outer wire structure. encoding/json maps the []byte
// fields to standard base64 strings, matching the wire format.
type Envelope struct {
	Mensaje []byte `json:"mensaje"`
	MAC     []byte `json:"mac"`
	Nonce   []byte `json:"nonce"`
}

// payload is the authenticated inner document.
type payload struct {
	Tipo  string          `json:"tipo"`
	Datos json.RawMessage `json:"datos"`
}

// Request is the sum of the three message variants.
type Request interface {
	Kind() string
}

// RegisterRequest creates a new user account.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (RegisterRequest) Kind() string { return KindRegister }

// LoginRequest authenticates an existing user.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (LoginRequest) Kind() string { return KindLogin }

// TransferRequest records a transfer intent. Accounts are opaque strings;
// balances and IBANs are not validated.
type TransferRequest struct {
	Username      string  `json:"username"`
	CuentaOrigen  string  `json:"cuenta_origen"`
	CuentaDestino string  `json:"cuenta_destino"`
	Cantidad      float64 `json:"cantidad"`
}

func (TransferRequest) Kind() string { return KindTransfer }

// Pack serializes req into an authenticated envelope ready for the wire:
// the payload is JSON-encoded, a fresh nonce is drawn, and the MAC binds
// payload and nonce under key.
func Pack(key []byte, req Request) ([]byte, error) {
	datos, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request data: %w", err)
	}
	msg, err := json.Marshal(payload{Tipo: req.Kind(), Datos: datos})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	env, err := Seal(key, msg)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return raw, nil
}

// Seal wraps an already-serialized payload in an authenticated envelope
// with a fresh nonce.
func Seal(key, msg []byte) (Envelope, error) {
	nonce, err := crypto.NewNonce()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Mensaje: msg,
		MAC:     crypto.MAC(key, msg, nonce),
		Nonce:   nonce,
	}, nil
}

// Unpack parses an envelope received from the wire and returns its parts.
// It fails with ErrMalformedEnvelope when the JSON is invalid, a field is
// missing, the MAC or nonce are not exactly 32 bytes after decode, or the
// payload is not valid UTF-8.
func Unpack(raw []byte) (msg, mac, nonce []byte, err error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Mensaje == nil || env.MAC == nil || env.Nonce == nil {
		return nil, nil, nil, fmt.Errorf("%w: missing field", ErrMalformedEnvelope)
	}
	if len(env.MAC) != crypto.MACSize {
		return nil, nil, nil, fmt.Errorf("%w: mac is %d bytes, want %d", ErrMalformedEnvelope, len(env.MAC), crypto.MACSize)
	}
	if len(env.Nonce) != crypto.NonceSize {
		return nil, nil, nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrMalformedEnvelope, len(env.Nonce), crypto.NonceSize)
	}
	if !utf8.Valid(env.Mensaje) {
		return nil, nil, nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedEnvelope)
	}
	return env.Mensaje, env.MAC, env.Nonce, nil
}

// DecodePayload parses the inner payload and discriminates on "tipo".
func DecodePayload(msg []byte) (Request, error) {
	var p payload
	if err := json.Unmarshal(msg, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch p.Tipo {
	case KindRegister:
		var req RegisterRequest
		if err := json.Unmarshal(p.Datos, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return req, nil
	case KindLogin:
		var req LoginRequest
		if err := json.Unmarshal(p.Datos, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return req, nil
	case KindTransfer:
		var req TransferRequest
		if err := json.Unmarshal(p.Datos, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, p.Tipo)
	}
}
