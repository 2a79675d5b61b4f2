package encrypted

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
)

// StaticKeyManager is a KeyManager holding KEKs in memory. It's meant for
// single-process deployments and tests; a production key manager would
// back this with a KMS or sealed secret store instead.
type StaticKeyManager struct {
	mu      sync.RWMutex
	current uint32
	keys    map[uint32][32]byte
}

var _ KeyManager = (*StaticKeyManager)(nil)

// NewStaticKeyManager returns a KeyManager seeded with one freshly
// generated key at version 1.
func NewStaticKeyManager() (*StaticKeyManager, error) {
	m := &StaticKeyManager{keys: make(map[uint32][32]byte)}
	if _, err := m.Rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Rotate generates a new key and makes it current, retiring (but keeping)
// the previous one.
func (m *StaticKeyManager) Rotate() (uint32, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return 0, fmt.Errorf("encrypted: generate kek: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current++
	m.keys[m.current] = key
	return m.current, nil
}

// CurrentKEK implements KeyManager.
func (m *StaticKeyManager) CurrentKEK(context.Context) (uint32, [32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.keys[m.current], nil
}

// KEK implements KeyManager.
func (m *StaticKeyManager) KEK(_ context.Context, version uint32) ([32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[version]
	if !ok {
		return [32]byte{}, fmt.Errorf("encrypted: unknown kek version %d", version)
	}
	return key, nil
}
