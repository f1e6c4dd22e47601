// Package store persists users, single-use nonces, and the transaction
// audit log in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserExists is returned when registering a username that is
	// already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrNonceSeen is returned when admitting a nonce that has a live
	// row in the nonces table. This is the replay-detection signal.
	ErrNonceSeen = errors.New("nonce already used")
)

// timeLayout is a fixed-width UTC timestamp format. Fixed width keeps
// lexicographic comparison in SQL consistent with time ordering.
const timeLayout = "2006-01-02 15:04:05.000000000"

const schema = `
CREATE TABLE IF NOT EXISTS usuarios (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT UNIQUE NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transacciones (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL,
  cuenta_origen TEXT NOT NULL,
  cuenta_destino TEXT NOT NULL,
  cantidad REAL NOT NULL,
  mac_verificado INTEGER NOT NULL DEFAULT 1,
  timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  valor BLOB UNIQUE NOT NULL,
  expira TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transacciones_username ON transacciones(username, timestamp);
CREATE INDEX IF NOT EXISTS idx_nonces_expira ON nonces(expira);
`

// Transaction is one row of the append-only audit log.
type Transaction struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	CuentaOrigen  string    `json:"cuenta_origen"`
	CuentaDestino string    `json:"cuenta_destino"`
	Cantidad      float64   `json:"cantidad"`
	MACVerificado bool      `json:"mac_verificado"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store wraps the SQLite handle. A single Store is shared by all
// connection workers; database/sql serializes access.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	sweepStop chan struct{}
	sweepOnce sync.Once
	sweepWG   sync.WaitGroup
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{
		db:        db,
		log:       slog.With("component", "store"),
		sweepStop: make(chan struct{}),
	}, nil
}

// Close stops the sweeper, if running, and closes the database.
func (s *Store) Close() error {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
	s.sweepWG.Wait()
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user row. Returns ErrUserExists if the
// username is already taken.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO usuarios(username, password_hash, created_at) VALUES(?, ?, ?)`,
		username, passwordHash, now(),
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// PasswordHash returns the stored hash for username. found is false when
// the user does not exist.
func (s *Store) PasswordHash(ctx context.Context, username string) (hash string, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM usuarios WHERE username = ?`, username,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading password hash: %w", err)
	}
	return hash, true, nil
}

// UserExists reports whether username has a row.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	_, found, err := s.PasswordHash(ctx, username)
	return found, err
}

// AdmitNonce atomically records value as used, with the given lifetime.
// The UNIQUE constraint on valor makes the insert a test-and-set: of two
// concurrent calls with the same value exactly one succeeds, the other
// gets ErrNonceSeen.
func (s *Store) AdmitNonce(ctx context.Context, value []byte, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces(valor, expira) VALUES(?, ?)`,
		value, formatTime(time.Now().UTC().Add(ttl)),
	)
	if err != nil {
		return fmt.Errorf("admitting nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("admitting nonce: %w", err)
	}
	if n == 0 {
		return ErrNonceSeen
	}
	return nil
}

// SweepExpiredNonces deletes nonce rows whose lifetime ended before ref.
// Idempotent and safe to run concurrently with admission; an admitted
// value stays non-admissible until swept.
func (s *Store) SweepExpiredNonces(ctx context.Context, ref time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE expira < ?`, formatTime(ref.UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping nonces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweeping nonces: %w", err)
	}
	return n, nil
}

// StartSweeper runs SweepExpiredNonces every interval until Close. The
// onSwept callback, if non-nil, receives the number of rows removed.
func (s *Store) StartSweeper(interval time.Duration, onSwept func(int64)) {
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := s.SweepExpiredNonces(context.Background(), time.Now())
				if err != nil {
					s.log.Error("nonce sweep failed", "err", err)
					continue
				}
				if n > 0 {
					s.log.Info("swept expired nonces", "count", n)
				}
				if onSwept != nil {
					onSwept(n)
				}
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// AppendTransaction appends one audit row and returns its id.
func (s *Store) AppendTransaction(ctx context.Context, username, src, dst string, amount float64, macOK bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transacciones(username, cuenta_origen, cuenta_destino, cantidad, mac_verificado, timestamp)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		username, src, dst, amount, boolToInt(macOK), now(),
	)
	if err != nil {
		return 0, fmt.Errorf("appending transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("appending transaction: %w", err)
	}
	return id, nil
}

// Transactions returns the audit rows for username, newest first.
func (s *Store) Transactions(ctx context.Context, username string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, cuenta_origen, cuenta_destino, cantidad, mac_verificado, timestamp
		 FROM transacciones WHERE username = ? ORDER BY timestamp DESC, id DESC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx     Transaction
			macOK  int
			tsText string
		)
		if err := rows.Scan(&tx.ID, &tx.Username, &tx.CuentaOrigen, &tx.CuentaDestino, &tx.Cantidad, &macOK, &tsText); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		tx.MACVerificado = macOK != 0
		if ts, err := time.Parse(timeLayout, tsText); err == nil {
			tx.Timestamp = ts
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return out, nil
}

func now() string {
	return formatTime(time.Now().UTC())
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
