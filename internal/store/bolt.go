package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAttributes = []byte("attributes")
	bucketNetwork    = []byte("network")
	keyNetState      = []byte("state")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAttributes, bucketNetwork} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveAttribute(rec *AttributeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.AttributeKey.String()), data)
	})
}

func (s *BoltStore) GetAttribute(key AttributeKey) (*AttributeRecord, error) {
	var rec AttributeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data := b.Get([]byte(key.String()))
		if data == nil {
			return fmt.Errorf("attribute %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) DeleteAttribute(key AttributeKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		return b.Delete([]byte(key.String()))
	})
}

// ListAttributes returns every record in key order.
func (s *BoltStore) ListAttributes() ([]*AttributeRecord, error) {
	var recs []*AttributeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return nil // no bucket = no records
		}
		recs = make([]*AttributeRecord, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec AttributeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("attribute %s: %w", k, err)
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) SaveNetworkState(state *NetworkState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetwork)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNetwork)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(keyNetState, data)
	})
}

func (s *BoltStore) GetNetworkState() (*NetworkState, error) {
	var state NetworkState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetwork)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNetwork)
		}
		data := b.Get(keyNetState)
		if data == nil {
			return fmt.Errorf("network state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
