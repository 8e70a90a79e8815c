package securestore

import (
	"context"
	"sync"

	"github.com/rideline/ridectl/internal/domain/credential"
)

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	creds *credential.Credentials
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*credential.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, credential.ErrNoCredentials
	}
	c := *s.creds
	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, creds *credential.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *creds
	s.creds = &c
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
