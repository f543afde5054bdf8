package authn

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoryStore struct {
	mux     sync.Mutex
	entries *cache.Cache
}

// NewMemoryStore returns an in-process Store whose entries expire after ttl.
// Expired entries are garbage-collected in the background.
func NewMemoryStore(ttl time.Duration) Store {
	return &memoryStore{
		entries: cache.New(ttl, ttl),
	}
}

func (s *memoryStore) Save(tx *Transaction) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.entries.Set(tx.State, tx, cache.DefaultExpiration)
	return nil
}

func (s *memoryStore) Take(state string) (*Transaction, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	value, ok := s.entries.Get(state)
	if !ok {
		return nil, ErrTransactionNotFound
	}
	s.entries.Delete(state)
	return value.(*Transaction), nil
}
