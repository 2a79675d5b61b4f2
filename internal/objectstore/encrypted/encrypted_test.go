package encrypted

import (
	"context"
	"sync"
	"testing"

	"github.com/dogmahq/dogma/internal/objectstore"
)

type memStore struct {
	mu      sync.Mutex
	objects map[objectstore.ID]struct {
		typ  objectstore.Type
		data []byte
	}
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[objectstore.ID]struct {
		typ  objectstore.Type
		data []byte
	})}
}

func (m *memStore) Insert(_ context.Context, typ objectstore.Type, data []byte) (objectstore.ID, error) {
	id := objectstore.Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = struct {
			typ  objectstore.Type
			data []byte
		}{typ, append([]byte(nil), data...)}
	}
	return id, nil
}

func (m *memStore) Get(_ context.Context, id objectstore.ID, typeHint objectstore.Type) (objectstore.Type, []byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[id]
	if !ok {
		return 0, nil, false, nil
	}
	return v.typ, v.data, true, nil
}

func (m *memStore) Contains(_ context.Context, id objectstore.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id]
	return ok, nil
}

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	km, err := NewStaticKeyManager()
	if err != nil {
		t.Fatalf("NewStaticKeyManager: %v", err)
	}
	inner := newMemStore()
	s := New(inner, km)

	plaintext := []byte(`{"name":"dogma"}`)
	id, err := s.Insert(ctx, objectstore.Blob, plaintext)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// the underlying store must never see plaintext
	_, raw, ok, err := inner.Get(ctx, id, 0)
	if err != nil || !ok {
		t.Fatalf("inner.Get: ok=%v err=%v", ok, err)
	}
	if string(raw) == string(plaintext) {
		t.Fatal("underlying store holds plaintext, expected ciphertext envelope")
	}

	typ, got, ok, err := s.Get(ctx, id, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: expected hit")
	}
	if typ != objectstore.Blob {
		t.Errorf("type = %v, want Blob", typ)
	}
	if string(got) != string(plaintext) {
		t.Errorf("data = %q, want %q", got, plaintext)
	}
}

func TestEncryptedSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	km, err := NewStaticKeyManager()
	if err != nil {
		t.Fatalf("NewStaticKeyManager: %v", err)
	}
	inner := newMemStore()
	s := New(inner, km)

	plaintext := []byte("encrypted before rotation")
	id, err := s.Insert(ctx, objectstore.Blob, plaintext)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := km.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	_, got, ok, err := s.Get(ctx, id, 0)
	if err != nil {
		t.Fatalf("Get after rotation: %v", err)
	}
	if !ok {
		t.Fatal("Get after rotation: expected hit")
	}
	if string(got) != string(plaintext) {
		t.Errorf("data = %q, want %q", got, plaintext)
	}
}

func TestEncryptedContainsDoesNotDecrypt(t *testing.T) {
	ctx := context.Background()
	km, err := NewStaticKeyManager()
	if err != nil {
		t.Fatalf("NewStaticKeyManager: %v", err)
	}
	inner := newMemStore()
	s := New(inner, km)

	id, err := s.Insert(ctx, objectstore.Blob, []byte("payload"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err := s.Contains(ctx, id)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Error("Contains: expected true")
	}
}
