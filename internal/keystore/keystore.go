package keystore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mailim/tom/internal/config"
	"github.com/mailim/tom/internal/endpoint"
)

// ErrLocked is returned by any accessor called before Unlock or Initialize.
var ErrLocked = errors.New("keystore: locked")

// ErrAlreadyUnlocked is returned by Initialize/Unlock when the store is
// already unlocked.
var ErrAlreadyUnlocked = errors.New("keystore: already unlocked")

// UserKeyType selects which side of a ratchet keypair GetUserKeys/SetUserKeys
// operates on.
type UserKeyType int

const (
	// LocalKeys holds this mailbox's own ratchet private key material.
	LocalKeys UserKeyType = iota
	// RemoteKeys holds peers' ratchet public key material.
	RemoteKeys
)

// userKeyEntry is one (endpoint pair, key bytes) entry.
type userKeyEntry struct {
	Pair endpoint.Pair
	Key  []byte
}

// keys is the plaintext content of the store, matching the Persisted state
// layout: email_credentials, local_keys, remote_keys, socket_dumps.
type keys struct {
	EmailCredentials map[string]config.Credential
	LocalKeys        []userKeyEntry
	RemoteKeys       []userKeyEntry
	SocketDumps      map[endpoint.Pair][]byte
}

func newKeys() *keys {
	return &keys{
		EmailCredentials: make(map[string]config.Credential),
		SocketDumps:      make(map[endpoint.Pair][]byte),
	}
}

// Store is the at-rest credential and key store. It is safe for concurrent
// use.
type Store struct {
	mu         sync.Mutex
	path       string
	masterKey  []byte
	data       *keys
	unlocked   bool
}

// New returns a Store backed by the file at path. The file is not read
// until Initialize or Unlock is called.
func New(path string) *Store {
	return &Store{path: path}
}

// Initialize creates a new, empty store at path and unlocks it with
// masterKey.
func (s *Store) Initialize(masterKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlocked {
		return ErrAlreadyUnlocked
	}
	s.masterKey = masterKey
	s.data = newKeys()
	s.unlocked = true
	return s.saveLocked()
}

// Unlock decrypts the store file at path using masterKey.
func (s *Store) Unlock(masterKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlocked {
		return ErrAlreadyUnlocked
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("keystore: read %s: %w", s.path, err)
	}
	plaintext, err := openFile(masterKey, raw)
	if err != nil {
		return err
	}
	var data keys
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(&data); err != nil {
		return fmt.Errorf("keystore: decode: %w", err)
	}
	s.data = &data
	s.masterKey = masterKey
	s.unlocked = true
	return nil
}

// Lock discards the in-memory master key and plaintext.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterKey = nil
	s.data = nil
	s.unlocked = false
}

// SetMasterKey re-keys the store, re-encrypting with the new master key on
// the next save (performed immediately).
func (s *Store) SetMasterKey(masterKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	s.masterKey = masterKey
	return s.saveLocked()
}

// GetEmailCredential returns the stored credential for protocol ("smtp" or
// "imap"), and whether one was found.
func (s *Store) GetEmailCredential(protocol string) (config.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return config.Credential{}, false
	}
	c, ok := s.data.EmailCredentials[protocol]
	return c, ok
}

// SetEmailCredential stores or, if cred is nil, deletes the credential for
// protocol.
func (s *Store) SetEmailCredential(protocol string, cred *config.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	if cred == nil {
		delete(s.data.EmailCredentials, protocol)
	} else {
		s.data.EmailCredentials[protocol] = *cred
	}
	return s.saveLocked()
}

func (s *Store) entries(t UserKeyType) *[]userKeyEntry {
	if t == LocalKeys {
		return &s.data.LocalKeys
	}
	return &s.data.RemoteKeys
}

// GetUserKeys returns all stored (endpoint pair, key) entries of type t.
func (s *Store) GetUserKeys(t UserKeyType) ([]endpoint.Pair, [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return nil, nil
	}
	list := *s.entries(t)
	pairs := make([]endpoint.Pair, len(list))
	keys := make([][]byte, len(list))
	for i, e := range list {
		pairs[i], keys[i] = e.Pair, e.Key
	}
	return pairs, keys
}

// SetUserKeys replaces all stored entries of type t.
func (s *Store) SetUserKeys(t UserKeyType, pairs []endpoint.Pair, keyBytes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	if len(pairs) != len(keyBytes) {
		return fmt.Errorf("keystore: pairs/keys length mismatch")
	}
	list := make([]userKeyEntry, len(pairs))
	for i := range pairs {
		list[i] = userKeyEntry{Pair: pairs[i], Key: keyBytes[i]}
	}
	*s.entries(t) = list
	return s.saveLocked()
}

// GetUserKey returns the first stored key of type t whose endpoint pair
// matches the given (local, remote) pair, per Endpoint.Matches semantics.
func (s *Store) GetUserKey(t UserKeyType, pair endpoint.Pair) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return nil, false
	}
	for _, e := range *s.entries(t) {
		if e.Pair.Local.Matches(pair.Local) && e.Pair.Remote.Matches(pair.Remote) {
			return e.Key, true
		}
	}
	return nil, false
}

// GetSocketDump returns the dumped state for pair, if any.
func (s *Store) GetSocketDump(pair endpoint.Pair) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return nil, false
	}
	dump, ok := s.data.SocketDumps[pair]
	return dump, ok
}

// SetSocketDump stores (or, if dump is nil, deletes) the dumped state for
// pair.
func (s *Store) SetSocketDump(pair endpoint.Pair, dump []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	if dump == nil {
		delete(s.data.SocketDumps, pair)
	} else {
		s.data.SocketDumps[pair] = dump
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data); err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	sealed, err := sealFile(s.masterKey, buf.Bytes())
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, sealed, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", s.path, err)
	}
	return nil
}
