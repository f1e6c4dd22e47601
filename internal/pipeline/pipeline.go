// Package pipeline validates raw bytes from the wire into a typed
// request: envelope parse, MAC verification, nonce admission, payload
// decode. Each stage short-circuits with a typed rejection.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vaultbank/vaultbank/internal/crypto"
	"github.com/vaultbank/vaultbank/internal/protocol"
	"github.com/vaultbank/vaultbank/internal/store"
)

// DefaultNonceTTL is how long an admitted nonce stays non-admissible.
const DefaultNonceTTL = 5 * time.Minute

// Rejection kinds, used as metrics labels.
const (
	KindMalformed   = "malformed"
	KindBadMAC      = "mac"
	KindReplay      = "replay"
	KindUnsupported = "unsupported"
)

// Stable user-visible rejection reasons.
const (
	ReasonMalformed   = "Mensaje malformado"
	ReasonBadMAC      = "MAC inválido - Integridad comprometida"
	ReasonReplay      = "NONCE ya usado - Replay attack detectado"
	ReasonUnsupported = "Tipo de mensaje no soportado"
)

// RejectError reports why a message was rejected. Reason is the stable
// string sent back to the client; Kind labels the rejection for metrics.
type RejectError struct {
	Kind   string
	Reason string
	cause  error
}

func (e *RejectError) Error() string { return e.Reason }

// Unwrap exposes the underlying parse error, when there is one.
func (e *RejectError) Unwrap() error { return e.cause }

// Pipeline borrows the shared key and the store; it owns neither.
type Pipeline struct {
	key      []byte
	store    *store.Store
	nonceTTL time.Duration
	log      *slog.Logger
}

// New creates a validation pipeline. A zero ttl means DefaultNonceTTL.
func New(key []byte, st *store.Store, ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &Pipeline{
		key:      key,
		store:    st,
		nonceTTL: ttl,
		log:      slog.With("component", "pipeline"),
	}
}

// Validate runs the four stages in order and returns the typed request or
// a *RejectError. MAC verification runs before nonce admission so
// unauthenticated traffic cannot burn nonce slots; the replay check runs
// before decoding so a replayed but well-formed envelope is rejected
// exactly once per nonce.
func (p *Pipeline) Validate(ctx context.Context, raw []byte) (protocol.Request, error) {
	msg, mac, nonce, err := protocol.Unpack(raw)
	if err != nil {
		return nil, &RejectError{Kind: KindMalformed, Reason: ReasonMalformed, cause: err}
	}

	if !crypto.VerifyMAC(p.key, msg, nonce, mac) {
		p.log.Warn("MAC verification failed")
		return nil, &RejectError{Kind: KindBadMAC, Reason: ReasonBadMAC}
	}

	if err := p.store.AdmitNonce(ctx, nonce, p.nonceTTL); err != nil {
		if errors.Is(err, store.ErrNonceSeen) {
			p.log.Warn("replay detected: nonce already used")
			return nil, &RejectError{Kind: KindReplay, Reason: ReasonReplay}
		}
		return nil, err
	}

	req, err := protocol.DecodePayload(msg)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			return nil, &RejectError{Kind: KindUnsupported, Reason: ReasonUnsupported, cause: err}
		}
		return nil, &RejectError{Kind: KindMalformed, Reason: ReasonMalformed, cause: err}
	}
	return req, nil
}
