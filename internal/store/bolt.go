package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/tandem/internal/crdt"
)

var (
	bucketStates    = []byte("snapshots")
	bucketSummaries = []byte("summaries")
)

// BoltStore keeps the latest snapshot of each document in a bbolt file.
// Keys are document IDs; states and summaries live in separate buckets so
// listings never decompress state.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt creates or opens a bbolt database at path. It waits up to one
// second for the file lock held by another process.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketStates, bucketSummaries} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot upserts snap. An older version never replaces a newer one.
func (s *BoltStore) SaveSnapshot(_ context.Context, snap crdt.Snapshot) error {
	rec, err := newRecord(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	summary, err := encMode.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.DocID, err)
	}

	key := []byte(snap.DocID)
	err = s.db.Update(func(tx *bolt.Tx) error {
		sums := tx.Bucket(bucketSummaries)
		if prev := sums.Get(key); prev != nil {
			var old Summary
			if err := decMode.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("decode summary: %w", err)
			}
			if old.Version > rec.Version {
				return nil
			}
		}
		if err := tx.Bucket(bucketStates).Put(key, rec.State); err != nil {
			return err
		}
		return sums.Put(key, summary)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.DocID, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of docID. found is false when
// there is none.
func (s *BoltStore) LoadSnapshot(_ context.Context, docID string) (crdt.Snapshot, bool, error) {
	var state []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// Values are only valid inside the transaction.
		if v := tx.Bucket(bucketStates).Get([]byte(docID)); v != nil {
			state = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return crdt.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	if state == nil {
		return crdt.Snapshot{}, false, nil
	}
	snap, err := DecodeSnapshot(state)
	if err != nil {
		return crdt.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	return snap, true, nil
}

// ListSnapshots summarizes every stored snapshot, ordered by document ID.
func (s *BoltStore) ListSnapshots(_ context.Context) ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).ForEach(func(_, v []byte) error {
			var sum Summary
			if err := decMode.Unmarshal(v, &sum); err != nil {
				return fmt.Errorf("decode summary: %w", err)
			}
			out = append(out, sum)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot of docID.
func (s *BoltStore) DeleteSnapshot(_ context.Context, docID string) error {
	key := []byte(docID)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStates).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketSummaries).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", docID, err)
	}
	return nil
}
