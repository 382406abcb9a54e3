package config

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/signove/phd-manager/dim"
)

// BadgerStore persists the extended-configuration cache across restarts
// using an embedded badger database, grounded on dittofs's use of
// badger/v4 as its metadata store. Keys are "<system-id hex>:<config-id
// hex>"; values are the flat dim.EncodeConfigReport representation.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("config: open badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying badger database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Lookup(systemID []byte, configID uint16) (*dim.ConfigReport, bool, error) {
	key := []byte(storeKey(systemID, configID))
	var report *dim.ConfigReport
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := dim.DecodeConfigReport(val)
			if err != nil {
				return err
			}
			report = r
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("config: badger lookup: %w", err)
	}
	return report, report != nil, nil
}

func (s *BadgerStore) Save(systemID []byte, configID uint16, report *dim.ConfigReport) error {
	key := []byte(storeKey(systemID, configID))
	val := dim.EncodeConfigReport(report)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("config: badger save: %w", err)
	}
	return nil
}
