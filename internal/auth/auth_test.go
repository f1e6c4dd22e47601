package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vaultbank/vaultbank/internal/ratelimit"
	"github.com/vaultbank/vaultbank/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(st, ratelimit.New(ratelimit.DefaultSettings()))
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	return svc, st
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		ok       bool
		message  string
	}{
		{"valid", "Correct_pass1!", true, ""},
		{"too short", "Ab1!x", false, msgTooShort},
		{"all whitespace", "             ", false, msgEmpty},
		{"no uppercase", "correct_pass1!", false, msgNoUpper},
		{"no lowercase", "CORRECT_PASS1!", false, msgNoLower},
		{"no digit", "Correct_pass_!", false, msgNoDigit},
		{"no special", "CorrectPass123", false, msgNoSpecial},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ok, msg := ValidatePassword(c.password)
			if ok != c.ok {
				t.Fatalf("ValidatePassword(%q) ok = %v, want %v", c.password, ok, c.ok)
			}
			if msg != c.message {
				t.Errorf("expected message %q, got %q", c.message, msg)
			}
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ok, msg := svc.Register(ctx, "test_user", "Correct_pass1!")
	if !ok {
		t.Fatalf("register failed: %s", msg)
	}
	if msg != MsgRegisterOK {
		t.Errorf("expected %q, got %q", MsgRegisterOK, msg)
	}

	ok, msg = svc.Login(ctx, "test_user", "Wrong_pass123!")
	if ok {
		t.Fatal("wrong password accepted")
	}
	if !strings.Contains(msg, MsgBadCredentials) {
		t.Errorf("expected %q in %q", MsgBadCredentials, msg)
	}

	ok, msg = svc.Login(ctx, "test_user", "Correct_pass1!")
	if !ok {
		t.Fatalf("correct password rejected: %s", msg)
	}
	if msg != MsgLoginOK {
		t.Errorf("expected %q, got %q", MsgLoginOK, msg)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if ok, msg := svc.Register(ctx, "dup", "Correct_pass1!"); !ok {
		t.Fatalf("first register failed: %s", msg)
	}
	ok, msg := svc.Register(ctx, "dup", "Correct_pass1!")
	if ok {
		t.Fatal("duplicate registration accepted")
	}
	if msg != MsgUserExists {
		t.Errorf("expected %q, got %q", MsgUserExists, msg)
	}
}

func TestRegisterWeakPasswordNotStored(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	ok, msg := svc.Register(ctx, "weak", "short")
	if ok {
		t.Fatal("weak password accepted")
	}
	if msg != msgTooShort {
		t.Errorf("expected %q, got %q", msgTooShort, msg)
	}

	exists, err := st.UserExists(ctx, "weak")
	if err != nil {
		t.Fatalf("UserExists failed: %v", err)
	}
	if exists {
		t.Error("rejected registration created a user row")
	}
}

func TestLoginUnknownUserGenericMessage(t *testing.T) {
	svc, _ := newTestService(t)

	ok, msg := svc.Login(context.Background(), "ghost", "Whatever_123!")
	if ok {
		t.Fatal("unknown user logged in")
	}
	if !strings.Contains(msg, MsgBadCredentials) {
		t.Errorf("unknown user should get the generic message, got %q", msg)
	}
}

func TestStoredHashIsArgon2(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if ok, msg := svc.Register(ctx, "persist", "Correct_pass1!"); !ok {
		t.Fatalf("register failed: %s", msg)
	}

	hash, found, err := st.PasswordHash(ctx, "persist")
	if err != nil || !found {
		t.Fatalf("hash lookup failed: found=%v err=%v", found, err)
	}
	if !strings.HasPrefix(hash, "$argon2") {
		t.Errorf("stored hash should start with $argon2, got %q", hash)
	}
}

func TestLockoutDominatesCorrectPassword(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	limiter := ratelimit.New(ratelimit.Settings{
		MaxAttempts: 3,
		Window:      5 * time.Minute,
		Lockout:     15 * time.Minute,
	})
	svc, err := NewService(st, limiter)
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	var lockouts int
	svc.SetOnLockout(func(string) { lockouts++ })

	ctx := context.Background()
	if ok, msg := svc.Register(ctx, "brute", "Correct_Pass123!"); !ok {
		t.Fatalf("register failed: %s", msg)
	}

	var sawLockoutNotice bool
	for i := 0; i < 3; i++ {
		ok, msg := svc.Login(ctx, "brute", "Wrong_pass456?")
		if ok {
			t.Fatal("wrong password accepted")
		}
		if strings.Contains(msg, "bloqueado") {
			sawLockoutNotice = true
		}
	}
	if !sawLockoutNotice {
		t.Error("expected a lockout notice within the failed attempts")
	}
	if lockouts != 1 {
		t.Errorf("expected 1 lockout callback, got %d", lockouts)
	}

	// The gate runs before the credential check: even the correct
	// password is rejected while locked.
	ok, msg := svc.Login(ctx, "brute", "Correct_Pass123!")
	if ok {
		t.Fatal("locked user logged in with correct password")
	}
	if !strings.Contains(msg, "bloqueado") {
		t.Errorf("expected lockout message, got %q", msg)
	}
}
