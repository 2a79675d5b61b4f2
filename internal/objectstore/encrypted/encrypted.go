// Package encrypted wraps an objectstore.Store so that every object's bytes
// are encrypted at rest under a per-object data-encryption key (DEK), itself
// wrapped by a repository-scoped key-encryption key (KEK).
//
// The envelope layout (key version, nonce, wrapped DEK, ciphertext) is
// designed so a KEK rotation only needs to rewrap the DEK, never
// re-encrypt the object body.
package encrypted

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/dogmahq/dogma/internal/objectstore"
)

const (
	keyVersionSize  = 4
	nonceSize       = 12
	dekSize         = 32
	wrappedDekSize  = dekSize + 16 // AES-GCM tag
	envelopeHdrSize = keyVersionSize + nonceSize + wrappedDekSize
)

// KeyManager owns the lifecycle of key-encryption keys for a repository.
//
// Implementations are expected to keep every version a repository has ever
// used, since objects encrypted under an old version must still be
// readable until they are rewrapped.
type KeyManager interface {
	// CurrentKEK returns the active key version and its 32-byte key.
	CurrentKEK(ctx context.Context) (version uint32, kek [32]byte, err error)
	// KEK returns the key for a specific, possibly retired, version.
	KEK(ctx context.Context, version uint32) (kek [32]byte, err error)
}

// Store wraps an objectstore.Store, encrypting object bodies transparently.
type Store struct {
	inner objectstore.Store
	keys  KeyManager
}

var _ objectstore.Store = (*Store)(nil)

// New returns a Store that encrypts every object it inserts into inner
// using keys from keys.
func New(inner objectstore.Store, keys KeyManager) *Store {
	return &Store{inner: inner, keys: keys}
}

// Insert encrypts data under a fresh DEK, wraps the DEK under the current
// KEK, and stores the envelope in the underlying store.
//
// The content ID returned is derived from the plaintext, not the envelope,
// so callers can address an object the same way whether or not it happens
// to be encrypted.
func (s *Store) Insert(ctx context.Context, typ objectstore.Type, data []byte) (objectstore.ID, error) {
	id := objectstore.Sum(data)

	version, kek, err := s.keys.CurrentKEK(ctx)
	if err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: current kek: %w", err)
	}

	var dek [dekSize]byte
	if _, err := rand.Read(dek[:]); err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: generate dek: %w", err)
	}

	objectGCM, err := gcmFor(dek[:])
	if err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: object cipher: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: generate nonce: %w", err)
	}
	ciphertext := objectGCM.Seal(nil, nonce, data, id[:])

	wrapKey, err := derive(kek[:], version)
	if err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: derive wrap key: %w", err)
	}
	wrapGCM, err := gcmFor(wrapKey)
	if err != nil {
		return objectstore.ID{}, fmt.Errorf("encrypted: wrap cipher: %w", err)
	}
	wrappedDek := wrapGCM.Seal(nil, nonce, dek[:], nil)

	envelope := make([]byte, 0, envelopeHdrSize+len(ciphertext))
	var versionBuf [keyVersionSize]byte
	binary.BigEndian.PutUint32(versionBuf[:], version)
	envelope = append(envelope, versionBuf[:]...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, wrappedDek...)
	envelope = append(envelope, ciphertext...)

	if _, err := s.inner.Insert(ctx, typ, envelope); err != nil {
		return objectstore.ID{}, err
	}
	return id, nil
}

// Get retrieves and decrypts the object stored under id.
func (s *Store) Get(ctx context.Context, id objectstore.ID, typeHint objectstore.Type) (objectstore.Type, []byte, bool, error) {
	typ, envelope, ok, err := s.inner.Get(ctx, id, typeHint)
	if err != nil || !ok {
		return typ, nil, ok, err
	}
	if len(envelope) < envelopeHdrSize {
		return 0, nil, false, fmt.Errorf("encrypted: object %s: truncated envelope", id)
	}

	version := binary.BigEndian.Uint32(envelope[:keyVersionSize])
	nonce := envelope[keyVersionSize : keyVersionSize+nonceSize]
	wrappedDek := envelope[keyVersionSize+nonceSize : envelopeHdrSize]
	ciphertext := envelope[envelopeHdrSize:]

	kek, err := s.keys.KEK(ctx, version)
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: object %s: kek version %d: %w", id, version, err)
	}
	wrapKey, err := derive(kek[:], version)
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: derive wrap key: %w", err)
	}
	wrapGCM, err := gcmFor(wrapKey)
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: wrap cipher: %w", err)
	}
	dek, err := wrapGCM.Open(nil, nonce, wrappedDek, nil)
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: object %s: unwrap dek: %w", id, err)
	}

	objectGCM, err := gcmFor(dek)
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: object cipher: %w", err)
	}
	plaintext, err := objectGCM.Open(nil, nonce, ciphertext, id[:])
	if err != nil {
		return 0, nil, false, fmt.Errorf("encrypted: object %s: decrypt: %w", id, err)
	}

	if sum := objectstore.Sum(plaintext); sum != id {
		return 0, nil, false, fmt.Errorf("encrypted: object %s: content mismatch after decrypt", id)
	}

	return typ, plaintext, true, nil
}

// Contains delegates to the underlying store; presence doesn't require
// decryption.
func (s *Store) Contains(ctx context.Context, id objectstore.ID) (bool, error) {
	return s.inner.Contains(ctx, id)
}

// derive produces a per-version 32-byte AES key from kek using HKDF, so
// rotating a KEK's raw bytes and bumping its version both invalidate any
// cached wrap key derived from the prior material.
func derive(kek []byte, version uint32) ([]byte, error) {
	var salt [keyVersionSize]byte
	binary.BigEndian.PutUint32(salt[:], version)
	r := hkdf.New(sha256.New, kek, salt[:], []byte("dogma-objectstore-wrap-key"))
	out := make([]byte, dekSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func gcmFor(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
