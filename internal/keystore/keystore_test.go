package keystore

import (
	"path/filepath"
	"testing"

	"github.com/mailim/tom/internal/config"
	"github.com/mailim/tom/internal/endpoint"
)

func TestInitializeAndUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	master := []byte("correct horse battery staple")

	s := New(path)
	if err := s.Initialize(master); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cred := config.Credential{Host: "smtp.example.com", Port: 587, Username: "alice"}
	if err := s.SetEmailCredential("smtp", &cred); err != nil {
		t.Fatalf("SetEmailCredential: %v", err)
	}

	reopened := New(path)
	if err := reopened.Unlock(master); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, ok := reopened.GetEmailCredential("smtp")
	if !ok {
		t.Fatal("expected credential to be found after reopen")
	}
	if got != cred {
		t.Errorf("got %+v, want %+v", got, cred)
	}
}

func TestUnlockWrongMasterKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s := New(path)
	if err := s.Initialize([]byte("right key")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	other := New(path)
	if err := other.Unlock([]byte("wrong key")); err == nil {
		t.Error("expected Unlock with wrong master key to fail")
	}
}

func TestUserKeysMatchByWildcard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s := New(path)
	if err := s.Initialize([]byte("master")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	pattern := endpoint.Pair{
		Local:  endpoint.New("@example.com", "mailim"),
		Remote: endpoint.New("bob@other.com", "mailim"),
	}
	key := []byte("shared-secret-key-bytes")
	if err := s.SetUserKeys(RemoteKeys, []endpoint.Pair{pattern}, [][]byte{key}); err != nil {
		t.Fatalf("SetUserKeys: %v", err)
	}

	concrete := endpoint.Pair{
		Local:  endpoint.New("alice@example.com", "mailim"),
		Remote: endpoint.New("bob@other.com", "mailim"),
	}
	got, ok := s.GetUserKey(RemoteKeys, concrete)
	if !ok {
		t.Fatal("expected wildcard match to find a key")
	}
	if string(got) != string(key) {
		t.Errorf("got %q, want %q", got, key)
	}
}

func TestSocketDumpRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s := New(path)
	if err := s.Initialize([]byte("master")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	pair := endpoint.Pair{
		Local:  endpoint.New("alice@example.com", "mailim"),
		Remote: endpoint.New("bob@example.com", "mailim"),
	}
	dump := []byte{1, 2, 3, 4, 5}
	if err := s.SetSocketDump(pair, dump); err != nil {
		t.Fatalf("SetSocketDump: %v", err)
	}

	got, ok := s.GetSocketDump(pair)
	if !ok {
		t.Fatal("expected dump to be found")
	}
	if string(got) != string(dump) {
		t.Errorf("got %v, want %v", got, dump)
	}

	if err := s.SetSocketDump(pair, nil); err != nil {
		t.Fatalf("SetSocketDump(nil): %v", err)
	}
	if _, ok := s.GetSocketDump(pair); ok {
		t.Error("expected dump to be deleted")
	}
}

func TestLockedAccessorsFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s := New(path)
	if err := s.SetEmailCredential("smtp", nil); err != ErrLocked {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}
