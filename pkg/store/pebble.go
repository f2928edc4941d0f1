// Copyright 2024-2026 Aiku AI

// Package store provides the pebble-backed persistence store for bridge
// mappings and participant profiles. Records are JSON documents keyed by
// "<type>/<key>".
package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/bridge"
)

// PebbleStore implements bridge.PersistenceStore on a pebble database.
type PebbleStore struct {
	db  *pebble.DB
	log zerolog.Logger
}

var _ bridge.PersistenceStore = (*PebbleStore)(nil)

// Open opens (or creates) the database at path.
func Open(path string, log zerolog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	l := log.With().Str("component", "pebble_store").Logger()
	l.Info().Str("path", path).Msg("Opened persistence store")
	return &PebbleStore{db: db, log: l}, nil
}

func recordKey(rtype, key string) []byte {
	return []byte(rtype + "/" + key)
}

// Upsert writes the record, replacing any previous value for the same
// (type, key). Writes are synced; an upsert that returns nil is durable.
func (s *PebbleStore) Upsert(rtype, key string, data any) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", rtype, key, err)
	}
	if err := s.db.Set(recordKey(rtype, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", rtype, key, err)
	}
	return nil
}

// FindAll returns every record of the given type.
func (s *PebbleStore) FindAll(rtype string) ([]bridge.Record, error) {
	prefix := []byte(rtype + "/")
	upper := append(append([]byte{}, prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator for %s: %w", rtype, err)
	}
	defer iter.Close()

	var records []bridge.Record
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())[len(prefix):]
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", rtype, key, err)
		}
		records = append(records, bridge.Record{
			Key:  key,
			Data: append(json.RawMessage{}, value...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration over %s failed: %w", rtype, err)
	}
	return records, nil
}

// Delete removes the record. Deleting a missing key is a no-op.
func (s *PebbleStore) Delete(rtype, key string) error {
	if err := s.db.Delete(recordKey(rtype, key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", rtype, key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	s.log.Info().Msg("Closing persistence store")
	return s.db.Close()
}
