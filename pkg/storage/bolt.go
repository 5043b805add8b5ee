package storage

import (
	"errors"
	"fmt"

	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// Bolt keeps records as keys in a single bolt database file, the way a
// microcontroller keeps them in NVS.
type Bolt struct {
	records
	db *raftboltdb.BoltStore
}

// NewBolt opens or creates the database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	return &Bolt{
		records: records{b: boltBackend{db: db}},
		db:      db,
	}, nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

type boltBackend struct {
	db *raftboltdb.BoltStore
}

func (b boltBackend) get(key string) ([]byte, error) {
	data, err := b.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, raftboltdb.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrIO, key, err)
	}
	// The store has no delete; an empty value marks a cleared key.
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

func (b boltBackend) put(key string, data []byte) error {
	if err := b.db.Set([]byte(key), data); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrIO, key, err)
	}
	return nil
}

func (b boltBackend) del(key string) error {
	if err := b.db.Set([]byte(key), []byte{}); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrIO, key, err)
	}
	return nil
}
