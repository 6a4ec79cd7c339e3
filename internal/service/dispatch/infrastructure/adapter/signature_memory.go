// internal/service/dispatch/infrastructure/adapter/signature_memory.go
package adapter

import (
	"context"
	"sync"

	"dispatch/internal/service/dispatch/domain/port"
)

// MemorySignatureStore 是进程内的签名存储，生命周期即进程的生命周期
type MemorySignatureStore struct {
	mu        sync.Mutex
	signature string
}

func NewMemorySignatureStore() *MemorySignatureStore {
	return &MemorySignatureStore{}
}

var _ port.SignatureStore = (*MemorySignatureStore)(nil)

func (s *MemorySignatureStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signature, nil
}

func (s *MemorySignatureStore) Save(_ context.Context, signature string) error {
	s.mu.Lock()
	s.signature = signature
	s.mu.Unlock()
	return nil
}

func (s *MemorySignatureStore) Clear(context.Context) error {
	s.mu.Lock()
	s.signature = ""
	s.mu.Unlock()
	return nil
}

func (s *MemorySignatureStore) ClearIf(_ context.Context, expected string) error {
	s.mu.Lock()
	if s.signature == expected {
		s.signature = ""
	}
	s.mu.Unlock()
	return nil
}
