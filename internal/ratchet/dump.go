package ratchet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/gob"
	"fmt"

	"github.com/ericlagergren/dr"
)

// stateSnapshot is the gob-serializable form of a dr.State. No library in
// the dependency set offers generic Go struct-graph serialization the way
// Python's pickle did for the original keystore; encoding/gob is the
// standard-library equivalent and is used here for the same reason.
type stateSnapshot struct {
	DHs, DHr, RK, CKs, CKr []byte
	Ns, Nr, PN             int
}

// DumpState serializes the channel's current ratchet state. It returns an
// error if Seal or Open has not yet been called (the session has no saved
// state to dump).
func (c *Channel) DumpState() ([]byte, error) {
	if c.store.state == nil {
		return nil, fmt.Errorf("ratchet: no saved state to dump")
	}
	s := c.store.state
	snap := stateSnapshot{
		DHs: s.DHs, DHr: s.DHr, RK: s.RK, CKs: s.CKs, CKr: s.CKr,
		Ns: s.Ns, Nr: s.Nr, PN: s.PN,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("ratchet: dump state: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreChannel rebuilds a Channel from a DumpState snapshot and
// caller-supplied signing key material (the snapshot carries none).
func RestoreChannel(dump []byte, maxMsgKeys int, own SignKeyPair, peerSign ed25519.PublicKey) (*Channel, error) {
	var snap stateSnapshot
	if err := gob.NewDecoder(bytes.NewReader(dump)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("ratchet: restore state: %w", err)
	}
	state := &dr.State{
		DHs: dr.PrivateKey(snap.DHs),
		DHr: dr.PublicKey(snap.DHr),
		RK:  dr.RootKey(snap.RK),
		CKs: dr.ChainKey(snap.CKs),
		CKr: dr.ChainKey(snap.CKr),
		Ns:  snap.Ns, Nr: snap.Nr, PN: snap.PN,
	}
	store := newBoundedStore(maxMsgKeys)
	store.state = state
	sess, err := dr.Resume(curve25519Ratchet{}, state, dr.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("ratchet: resume: %w", err)
	}
	return &Channel{session: sess, store: store, signKeys: own, peerSign: peerSign}, nil
}
