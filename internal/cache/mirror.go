// Package cache implements the local history mirror: a client-resident,
// best-effort duplicate of the durable history store. It serves anonymous
// sessions and instant local reads, and is never the source of truth when
// the durable store is reachable.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// DefaultMaxRecords caps the mirror so client-side storage stays bounded.
const DefaultMaxRecords = 200

var bucketRecords = []byte("history_records")

// Records that finish analysis before a durable ID is assigned are keyed by
// their document reference instead.
const docKeyPrefix = "doc:"

// Mirror is a bbolt-backed duplicate of history records, keyed by record ID.
type Mirror struct {
	db         *bolt.DB
	maxRecords int
}

// Open opens or creates the mirror file at path. maxRecords <= 0 selects
// DefaultMaxRecords.
func Open(path string, maxRecords int) (*Mirror, error) {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create mirror bucket: %w", err)
	}

	return &Mirror{db: db, maxRecords: maxRecords}, nil
}

// Close closes the underlying file.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// keyFor picks the storage key for a record: the record ID when assigned,
// otherwise the document fallback key.
func keyFor(rec *storage.HistoryRecord) []byte {
	if rec.ID != "" {
		return []byte(rec.ID)
	}
	return []byte(docKeyPrefix + rec.DocumentID)
}

// Upsert inserts or replaces the cached copy of rec. Matching is by record
// ID with a document-ID fallback for still-in-progress analyses, so
// repeated upserts of the same logical record never grow the cache. When
// the cache exceeds its cap, the oldest entries are evicted.
func (m *Mirror) Upsert(rec storage.HistoryRecord) error {
	if rec.ID == "" && rec.DocumentID == "" {
		return fmt.Errorf("record has neither id nor document id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Queries == nil {
		rec.Queries = []storage.Query{}
	}

	enc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		// A record that now carries a durable ID replaces any fallback
		// entry left over from before the analysis completed.
		if rec.ID != "" && rec.DocumentID != "" {
			if err := b.Delete([]byte(docKeyPrefix + rec.DocumentID)); err != nil {
				return err
			}
		}

		if err := b.Put(keyFor(&rec), enc); err != nil {
			return err
		}

		return m.evictOldest(b)
	})
}

// AppendQuery appends a question/answer to the cached record. The id may be
// a record ID or, for in-progress analyses, a document ID. A miss is a
// silent no-op: the cache is advisory, never a correctness dependency.
func (m *Mirror) AppendQuery(id, question, answer string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		key := []byte(id)
		v := b.Get(key)
		if v == nil {
			key = []byte(docKeyPrefix + id)
			v = b.Get(key)
		}
		if v == nil {
			return nil
		}

		var rec storage.HistoryRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			// Malformed cache entries are dropped rather than propagated.
			return b.Delete(key)
		}

		rec.Queries = append(rec.Queries, storage.Query{
			Question: question,
			Answer:   answer,
			AskedAt:  time.Now().UTC(),
		})

		enc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return b.Put(key, enc)
	})
}

// Remove deletes the cached record by ID. Removing an absent record is a
// no-op.
func (m *Mirror) Remove(id string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return b.Delete([]byte(docKeyPrefix + id))
	})
}

// RemoveAllForOwner drops every cached record belonging to ownerID. An
// empty ownerID clears only anonymous-session records.
func (m *Mirror) RemoveAllForOwner(ownerID string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec storage.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				doomed = append(doomed, append([]byte(nil), k...))
				return nil
			}
			if rec.OwnerID == ownerID {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReconcileFromStore merges durable-store records into the cache. Records
// already cached are left untouched so locally-appended queries survive;
// only missing ones are inserted.
func (m *Mirror) ReconcileFromStore(recs []storage.HistoryRecord) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		for i := range recs {
			rec := recs[i]
			if rec.ID == "" {
				continue
			}
			if b.Get([]byte(rec.ID)) != nil {
				continue
			}
			if rec.Queries == nil {
				rec.Queries = []storage.Query{}
			}
			enc, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			if err := b.Put([]byte(rec.ID), enc); err != nil {
				return err
			}
		}

		return m.evictOldest(b)
	})
}

// ListForOwner returns cached records for ownerID, newest first. An empty
// ownerID selects only anonymous-session records, so an anonymous session's
// history is never merged into an identity's view (or vice versa).
func (m *Mirror) ListForOwner(ownerID string) ([]storage.HistoryRecord, error) {
	records := []storage.HistoryRecord{}

	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec storage.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip malformed
			}
			if rec.OwnerID == ownerID {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// Len reports the number of cached records.
func (m *Mirror) Len() (int, error) {
	var n int
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// evictOldest removes the records with the oldest creation times until the
// bucket fits the retention cap. Counting is done by iteration because
// bucket stats do not see writes pending in the same transaction.
func (m *Mirror) evictOldest(b *bolt.Bucket) error {
	type entry struct {
		key     []byte
		created time.Time
	}
	var entries []entry
	err := b.ForEach(func(k, v []byte) error {
		var rec storage.HistoryRecord
		created := time.Time{}
		if err := json.Unmarshal(v, &rec); err == nil {
			created = rec.CreatedAt
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), created: created})
		return nil
	})
	if err != nil {
		return err
	}

	excess := len(entries) - m.maxRecords
	if excess <= 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})

	for i := 0; i < excess && i < len(entries); i++ {
		if err := b.Delete(entries[i].key); err != nil {
			return err
		}
	}
	return nil
}
