// Package sink applies decoded replication records to an in-memory
// last-writer-wins store, gated by a bucket filter and a JSON
// content-type check. Adapted from the teacher's internal/store.
package sink

import (
	"sync"

	"github.com/riakbridge/riakbridge/internal/record"
)

var jsonContentType = []byte("application/json")
var contentTypeKey = []byte("content-type")

// Item is the last-applied state for one bucket/key pair.
type Item struct {
	Value        []byte
	LastModified string
	VectorClocks record.VectorClocks
}

func cloneItem(it *Item) *Item {
	cloned := &Item{LastModified: it.LastModified, VectorClocks: it.VectorClocks}
	if it.Value != nil {
		cloned.Value = append([]byte(nil), it.Value...)
	}
	return cloned
}

// Store holds the last-writer-wins view of every bucket/key this
// consumer has applied.
type Store struct {
	mu     sync.RWMutex
	bucket string
	data   map[string]*Item
}

// New creates a Store that only accepts records for the given bucket.
func New(bucket string) *Store {
	return &Store{bucket: bucket, data: make(map[string]*Item)}
}

func itemKey(bucket, key []byte) string {
	return string(bucket) + "/" + string(key)
}

// Apply applies rec to the store, returning whether it was applied
// and, if not, why (spec §4.6): "wrong-bucket", "not-json", or
// "stale". Delete records remove the item unconditionally once past
// the bucket filter.
func (s *Store) Apply(rec *record.DecodedRecord) (applied bool, reason string) {
	if string(rec.Bucket) != s.bucket {
		return false, "wrong-bucket"
	}

	key := itemKey(rec.Bucket, rec.Key)

	if rec.IsDelete {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return true, ""
	}

	if !rec.HasMetadata(contentTypeKey, jsonContentType) {
		return false, "not-json"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[key]; ok && existing.LastModified >= rec.LastModified {
		return false, "stale"
	}

	s.data[key] = &Item{
		Value:        append([]byte(nil), rec.Value.Binary...),
		LastModified: rec.LastModified,
		VectorClocks: rec.VectorClocks,
	}
	return true, ""
}

// Get returns the current item for bucket/key, if any.
func (s *Store) Get(bucket, key []byte) (*Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.data[itemKey(bucket, key)]
	if !ok {
		return nil, false
	}
	return cloneItem(it), true
}

// Size returns the number of bucket/key pairs currently held.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
