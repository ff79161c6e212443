// Package registry assigns dense internal integer keys to externally
// supplied opaque identifiers. Assignments are append-only, persisted in the
// embedded store, and deterministic: replaying the same id sequence against
// the same prior state always yields the same keys.
package registry

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"activity-sync/internal/store"
)

// ErrAllocationInvariant signals that a batch insert assigned a different
// number of distinct keys than distinct ids submitted. This indicates an
// upstream collision bug and is never retried.
var ErrAllocationInvariant = errors.New("registry: distinct key count mismatch after batch insert")

// Registry maps external ids to surrogate keys within one namespace.
// Not safe for concurrent mutation: all writes happen in the sequential
// reduction phase of the pipeline.
type Registry struct {
	kv      *store.KVStore
	mapping map[string]int64
	next    int64
}

// Open loads the namespace table and rebuilds the in-memory map. The next
// key to hand out is always max assigned + 1 (0 for a fresh namespace).
func Open(db *sqlx.DB, namespace string) (*Registry, error) {
	kv, err := store.NewKVStore(db, "surrogate_"+namespace, namespace+"_uuid", namespace)
	if err != nil {
		return nil, err
	}
	mapping, err := kv.All()
	if err != nil {
		return nil, fmt.Errorf("registry: load %s: %w", namespace, err)
	}
	var next int64
	for _, v := range mapping {
		if v >= next {
			next = v + 1
		}
	}
	return &Registry{kv: kv, mapping: mapping, next: next}, nil
}

// Get is lookup-only; it never allocates.
func (r *Registry) Get(externalID string) (int64, bool) {
	v, ok := r.mapping[externalID]
	return v, ok
}

func (r *Registry) GetOrCreate(externalID string) (int64, error) {
	if v, ok := r.mapping[externalID]; ok {
		return v, nil
	}
	v := r.next
	if err := r.kv.Set(externalID, v); err != nil {
		return 0, err
	}
	r.mapping[externalID] = v
	r.next++
	return v, nil
}

// BulkRegister allocates keys for all unseen ids, in first-seen order within
// the batch. After the batch it checks that the number of distinct keys
// assigned to the submitted ids equals the number of distinct ids; a
// mismatch returns ErrAllocationInvariant.
func (r *Registry) BulkRegister(ids []string) error {
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
		if _, err := r.GetOrCreate(id); err != nil {
			return err
		}
	}

	keys := map[int64]bool{}
	for id := range seen {
		v, ok := r.mapping[id]
		if !ok {
			return fmt.Errorf("%w: id %q missing after insert", ErrAllocationInvariant, id)
		}
		keys[v] = true
	}
	if len(keys) != len(seen) {
		return fmt.Errorf("%w: %d ids, %d keys", ErrAllocationInvariant, len(seen), len(keys))
	}
	return nil
}

// Len reports the number of assigned keys.
func (r *Registry) Len() int {
	return len(r.mapping)
}
