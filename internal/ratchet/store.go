package ratchet

import (
	"errors"
	"fmt"

	"github.com/ericlagergren/dr"
)

// boundedStore is a dr.Store that caps the number of skipped-message keys
// it will retain, and remembers the latest session State for snapshotting.
type boundedStore struct {
	maxSkip int
	keys    map[string]dr.MessageKey
	state   *dr.State
}

var _ dr.Store = (*boundedStore)(nil)

// newBoundedStore builds a Store that rejects skipped-key storage once
// maxSkip entries are held, matching the tom.max_msg_keys config.
func newBoundedStore(maxSkip int) *boundedStore {
	return &boundedStore{maxSkip: maxSkip, keys: make(map[string]dr.MessageKey)}
}

func (s *boundedStore) key(Nr int, pub dr.PublicKey) string {
	return fmt.Sprintf("%d:%x", Nr, pub)
}

func (s *boundedStore) Save(state *dr.State) error {
	s.state = state.Clone()
	return nil
}

func (s *boundedStore) StoreKey(Nr int, pub dr.PublicKey, key dr.MessageKey) error {
	if len(s.keys) >= s.maxSkip {
		return errors.New("ratchet: too many skipped messages")
	}
	s.keys[s.key(Nr, pub)] = key
	return nil
}

func (s *boundedStore) LoadKey(Nr int, pub dr.PublicKey) (dr.MessageKey, error) {
	key, ok := s.keys[s.key(Nr, pub)]
	if !ok {
		return nil, dr.ErrNotFound
	}
	return key, nil
}

func (s *boundedStore) DeleteKey(Nr int, pub dr.PublicKey) error {
	delete(s.keys, s.key(Nr, pub))
	return nil
}
