package config

import (
	"fmt"
	"sync"

	"github.com/signove/phd-manager/dim"
)

// Store is the external seam for the extended-configuration cache: a
// novel (system-id, dev-configuration-id) pair is looked up once per
// association attempt and saved once the Agent's advertised ConfigReport
// is accepted.
type Store interface {
	Lookup(systemID []byte, configID uint16) (*dim.ConfigReport, bool, error)
	Save(systemID []byte, configID uint16, report *dim.ConfigReport) error
}

func storeKey(systemID []byte, configID uint16) string {
	return fmt.Sprintf("%x:%04x", systemID, configID)
}

// MemStore is a process-lifetime, zero-dependency Store. It is the
// default when a Manager is built without an explicit extended-config
// backing.
type MemStore struct {
	mu    sync.Mutex
	items map[string]*dim.ConfigReport
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{items: map[string]*dim.ConfigReport{}}
}

func (s *MemStore) Lookup(systemID []byte, configID uint16) (*dim.ConfigReport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[storeKey(systemID, configID)]
	return r, ok, nil
}

func (s *MemStore) Save(systemID []byte, configID uint16, report *dim.ConfigReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[storeKey(systemID, configID)] = report
	return nil
}
