// Package registry implements the Identity Registry: the pipeline's
// central, in-memory, append-only source-id -> target-id mapping
// collection, per object.
package registry

import (
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
)

// Registry maps object name -> (source ID -> target ID). Per object, entries
// preserve insertion order (via orderedmap) so the final summary table and
// the upsert back-query iterate in query-return order rather than Go's
// randomized map order.
type Registry struct {
	objects *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, string]]
}

// New creates an empty Identity Registry.
func New() *Registry {
	return &Registry{
		objects: orderedmap.NewOrderedMap[string, *orderedmap.OrderedMap[string, string]](),
	}
}

// Set records sourceID -> targetID under object. It panics if a different
// targetID was already registered for the same (object, sourceID) pair: the
// registry is append-only and a pair may map to at most one target ID for
// the run's lifetime. Writers must not call Set twice
// for the same key with different values; this is a programmer error, not a
// runtime condition callers are expected to recover from.
func (r *Registry) Set(object, sourceID, targetID string) {
	m, ok := r.objects.Get(object)
	if !ok {
		m = orderedmap.NewOrderedMap[string, string]()
		r.objects.Set(object, m)
	}
	if existing, ok := m.Get(sourceID); ok {
		if existing != targetID {
			panic(fmt.Sprintf("registry: (%s, %s) already mapped to %s, cannot overwrite with %s", object, sourceID, existing, targetID))
		}
		return
	}
	m.Set(sourceID, targetID)
}

// Get looks up the target ID for a known object and source ID.
func (r *Registry) Get(object, sourceID string) (string, bool) {
	m, ok := r.objects.Get(object)
	if !ok {
		return "", false
	}
	return m.Get(sourceID)
}

// Lookup resolves a source ID against every object map in the registry,
// relying on the platform invariant that source IDs are globally unique
// across object types: a 3-character prefix identifies the
// owning object, so at most one object map can hold a given source ID.
func (r *Registry) Lookup(sourceID string) (targetID string, object string, found bool) {
	for el := r.objects.Front(); el != nil; el = el.Next() {
		if tid, ok := el.Value.Get(sourceID); ok {
			return tid, el.Key, true
		}
	}
	return "", "", false
}

// HasObject reports whether any entries (even zero, if the object map was
// created) exist for the given object name — used by the non-root
// classifier rule to decide whether a reference target is
// in scope.
func (r *Registry) HasObject(object string) bool {
	_, ok := r.objects.Get(object)
	return ok
}

// Count returns the number of registered (sourceID -> targetID) pairs for an
// object.
func (r *Registry) Count(object string) int {
	m, ok := r.objects.Get(object)
	if !ok {
		return 0
	}
	return m.Len()
}

// Objects returns the object names with registry entries, in the order they
// were first seen.
func (r *Registry) Objects() []string {
	return r.objects.Keys()
}

// AllSourceIDs returns every source ID registered for an object, in
// insertion (query-return) order.
func (r *Registry) AllSourceIDs(object string) []string {
	m, ok := r.objects.Get(object)
	if !ok {
		return nil
	}
	return m.Keys()
}

// AllSourceIDsAcrossRegistry returns every source ID registered under any
// object, used by the activity stage which may attach
// to a record from any prior tier.
func (r *Registry) AllSourceIDsAcrossRegistry() []string {
	var out []string
	for el := r.objects.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.Keys()...)
	}
	return out
}
