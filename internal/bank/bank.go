// Package bank records transfer intents in the append-only audit log.
// It does not maintain balances or validate IBANs; an accepted transfer
// is a logged intent, nothing more.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vaultbank/vaultbank/internal/protocol"
	"github.com/vaultbank/vaultbank/internal/store"
)

// ErrMissingFields is returned when a transfer request lacks a required
// field or carries a non-positive amount.
var ErrMissingFields = errors.New("missing transaction fields")

// Service appends audit records and serves history queries.
type Service struct {
	store *store.Store
	log   *slog.Logger
}

// NewService creates a transaction service over the store.
func NewService(st *store.Store) *Service {
	return &Service{
		store: st,
		log:   slog.With("component", "bank"),
	}
}

// Transfer validates field presence and a positive amount, then appends
// the audit row. MAC verification already happened in the pipeline, so
// the row is written with mac_verificado set.
func (s *Service) Transfer(ctx context.Context, req protocol.TransferRequest) (int64, error) {
	if req.Username == "" || req.CuentaOrigen == "" || req.CuentaDestino == "" || req.Cantidad <= 0 {
		return 0, ErrMissingFields
	}

	id, err := s.store.AppendTransaction(ctx, req.Username, req.CuentaOrigen, req.CuentaDestino, req.Cantidad, true)
	if err != nil {
		return 0, fmt.Errorf("recording transfer: %w", err)
	}

	s.log.Info("transfer recorded",
		"id", id,
		"username", req.Username,
		"cantidad", fmt.Sprintf("%.2f", req.Cantidad),
		"origen", req.CuentaOrigen,
		"destino", req.CuentaDestino)
	return id, nil
}

// History returns the user's audit rows, newest first.
func (s *Service) History(ctx context.Context, username string) ([]store.Transaction, error) {
	txs, err := s.store.Transactions(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	return txs, nil
}
