// Package auth implements user registration and brute-force-resistant
// login over the persistent store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vaultbank/vaultbank/internal/crypto"
	"github.com/vaultbank/vaultbank/internal/ratelimit"
	"github.com/vaultbank/vaultbank/internal/store"
)

// User-visible messages. These are stable strings the client relies on.
const (
	MsgUserExists         = "El usuario ya existe"
	MsgRegisterOK         = "Usuario registrado exitosamente"
	MsgRegisterFailed     = "Error al procesar la contraseña"
	MsgCreateFailed       = "Error al crear el usuario"
	MsgBadCredentials     = "Credenciales incorrectas"
	MsgLoginOK            = "Login exitoso"
	MsgLoginFailed        = "Error al procesar el login"
	lockedMessageTemplate = "Usuario bloqueado. Intenta en %d minuto(s)"
)

// Service performs register and login. It owns no state beyond a decoy
// hash; users live in the store, attempt counters in the limiter.
type Service struct {
	store   *store.Store
	limiter *ratelimit.Limiter
	log     *slog.Logger

	// decoyHash is verified against the supplied password when the
	// username does not exist, so unknown-user and wrong-password
	// lookups take comparable time.
	decoyHash string

	onLockout func(username string)
}

// SetOnLockout registers a callback invoked when a user gets locked out.
func (s *Service) SetOnLockout(fn func(username string)) {
	s.onLockout = fn
}

// NewService creates an auth service over the given store and limiter.
func NewService(st *store.Store, limiter *ratelimit.Limiter) (*Service, error) {
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("generating decoy secret: %w", err)
	}
	decoy, err := crypto.HashPassword(string(nonce))
	if err != nil {
		return nil, fmt.Errorf("hashing decoy secret: %w", err)
	}
	return &Service{
		store:     st,
		limiter:   limiter,
		log:       slog.With("component", "auth"),
		decoyHash: decoy,
	}, nil
}

// Register validates password strength, then creates the user. Order
// matters: the policy runs before the uniqueness check so a weak password
// never reaches the hasher.
func (s *Service) Register(ctx context.Context, username, password string) (bool, string) {
	if ok, msg := ValidatePassword(password); !ok {
		s.log.Info("registration rejected by password policy", "username", username)
		return false, msg
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		s.log.Error("password hashing failed", "err", err)
		return false, MsgRegisterFailed
	}

	if err := s.store.CreateUser(ctx, username, hash); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			s.log.Warn("registration attempt for existing user", "username", username)
			return false, MsgUserExists
		}
		s.log.Error("user creation failed", "username", username, "err", err)
		return false, MsgCreateFailed
	}

	s.log.Info("user registered", "username", username)
	return true, MsgRegisterOK
}

// Login authenticates username/password. The rate-limit gate runs first:
// a locked user is rejected before any credential check, even with the
// correct password. Unknown users get the same generic message as a
// wrong password.
func (s *Service) Login(ctx context.Context, username, password string) (bool, string) {
	if ok, retryMinutes := s.limiter.Allow(username); !ok {
		s.log.Warn("login blocked by rate limiter", "username", username)
		return false, fmt.Sprintf(lockedMessageTemplate, retryMinutes)
	}

	hash, found, err := s.store.PasswordHash(ctx, username)
	if err != nil {
		s.log.Error("password hash lookup failed", "username", username, "err", err)
		return false, MsgLoginFailed
	}

	var match bool
	if found {
		match = crypto.VerifyPassword(hash, password)
	} else {
		// Burn a verification anyway to keep timing comparable.
		crypto.VerifyPassword(s.decoyHash, password)
	}

	outcome := s.limiter.Record(username, match)

	if match {
		s.log.Info("login successful", "username", username)
		return true, MsgLoginOK
	}

	if outcome.Locked {
		s.log.Warn("user locked out after repeated failures", "username", username)
		if s.onLockout != nil {
			s.onLockout(username)
		}
		return false, fmt.Sprintf("%s. Usuario bloqueado por %d minutos", MsgBadCredentials, s.limiter.LockoutMinutes())
	}
	s.log.Warn("login failed", "username", username, "attempts_left", outcome.Remaining)
	return false, fmt.Sprintf("%s. Intentos restantes: %d", MsgBadCredentials, outcome.Remaining)
}
