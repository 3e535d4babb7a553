package lifecycle

import (
	"context"
	"sync"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]*model.Document
	byIdentity map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[string]*model.Document),
		byIdentity: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.Identity.Key()
	if _, exists := s.byIdentity[key]; exists {
		return model.ErrDuplicateIdentity
	}
	s.docs[doc.ID] = doc.Clone()
	s.byIdentity[key] = doc.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) FindByIdentity(ctx context.Context, identity model.Identity) (*model.Document, error) {
	s.mu.RLock()
	id, ok := s.byIdentity[identity.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) Swap(_ context.Context, from model.State, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[doc.ID]
	if !ok {
		return model.ErrNotFound
	}
	if current.State != from {
		return model.ErrStateMismatch
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

// Len returns the number of stored documents
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
