package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateUser(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, "alice", "$argon2id$hash"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	err := st.CreateUser(ctx, "alice", "$argon2id$otherhash")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	// Usernames are case-sensitive.
	if err := st.CreateUser(ctx, "Alice", "$argon2id$hash"); err != nil {
		t.Fatalf("expected distinct case-sensitive username to succeed: %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, "bob", "$argon2id$bobhash"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	hash, found, err := st.PasswordHash(ctx, "bob")
	if err != nil {
		t.Fatalf("PasswordHash failed: %v", err)
	}
	if !found || hash != "$argon2id$bobhash" {
		t.Errorf("got (%q, %v), want stored hash", hash, found)
	}

	_, found, err = st.PasswordHash(ctx, "nobody")
	if err != nil {
		t.Fatalf("PasswordHash failed: %v", err)
	}
	if found {
		t.Error("unknown user reported as found")
	}
}

func TestAdmitNonce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	nonce := bytes.Repeat([]byte{0xAA}, 32)

	if err := st.AdmitNonce(ctx, nonce, 5*time.Minute); err != nil {
		t.Fatalf("first admission failed: %v", err)
	}
	if err := st.AdmitNonce(ctx, nonce, 5*time.Minute); !errors.Is(err, ErrNonceSeen) {
		t.Fatalf("expected ErrNonceSeen on second admission, got %v", err)
	}

	// A different value is admissible.
	other := bytes.Repeat([]byte{0xBB}, 32)
	if err := st.AdmitNonce(ctx, other, 5*time.Minute); err != nil {
		t.Fatalf("distinct nonce rejected: %v", err)
	}
}

func TestAdmitNonceConcurrent(t *testing.T) {
	st := openTestStore(t)
	nonce := bytes.Repeat([]byte{0xCC}, 32)

	const workers = 16
	var wg sync.WaitGroup
	admitted := make(chan struct{}, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := st.AdmitNonce(context.Background(), nonce, 5*time.Minute); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 admission, got %d", count)
	}
}

func TestSweepExpiredNonces(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	nonce := bytes.Repeat([]byte{0xDD}, 32)

	if err := st.AdmitNonce(ctx, nonce, 50*time.Millisecond); err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	// Not expired yet: sweep removes nothing, value stays blocked.
	n, err := st.SweepExpiredNonces(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 swept, got %d", n)
	}
	if err := st.AdmitNonce(ctx, nonce, time.Minute); !errors.Is(err, ErrNonceSeen) {
		t.Fatalf("unswept nonce admitted again: %v", err)
	}

	// After expiry the sweep frees the value.
	n, err = st.SweepExpiredNonces(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if err := st.AdmitNonce(ctx, nonce, time.Minute); err != nil {
		t.Errorf("swept value should be admissible again: %v", err)
	}
}

func TestSweepIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.SweepExpiredNonces(ctx, time.Now()); err != nil {
		t.Fatalf("sweep on empty table failed: %v", err)
	}
	if _, err := st.SweepExpiredNonces(ctx, time.Now()); err != nil {
		t.Fatalf("repeated sweep failed: %v", err)
	}
}

func TestAppendAndListTransactions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id1, err := st.AppendTransaction(ctx, "alice", "ES1234567890", "ES0987654321", 100.50, true)
	if err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}
	id2, err := st.AppendTransaction(ctx, "alice", "ES1111111111", "ES2222222222", 20, true)
	if err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("ids should increase: %d then %d", id1, id2)
	}

	if _, err := st.AppendTransaction(ctx, "bob", "x", "y", 1, true); err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}

	txs, err := st.Transactions(ctx, "alice")
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 rows for alice, got %d", len(txs))
	}
	// Newest first.
	if txs[0].ID != id2 || txs[1].ID != id1 {
		t.Errorf("expected order [%d %d], got [%d %d]", id2, id1, txs[0].ID, txs[1].ID)
	}
	if txs[1].Cantidad != 100.50 || txs[1].CuentaOrigen != "ES1234567890" {
		t.Errorf("unexpected row contents: %+v", txs[1])
	}
	if !txs[0].MACVerificado {
		t.Error("mac_verificado should be set")
	}
}

func TestTransactionsEmpty(t *testing.T) {
	st := openTestStore(t)

	txs, err := st.Transactions(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no rows, got %d", len(txs))
	}
}
