// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"reflect"
	"sync"
)

// Cache is the 4.C Graph/Cache component: node storage plus a maintained
// reverse index, keeping required_by and invalidate at O(|result|) rather
// than the source's O(|cache|·depth) full-table scan — spec.md §4.C and
// §9 both explicitly invite this upgrade for any non-toy graph.
//
// Thread safety: an RW-mutex guards all three maps, satisfying the optional
// thread-safety extension spec.md §5 invites ("an RW-lock on the cache...
// is sufficient"); the core's own single-threaded contract is unaffected,
// since nothing here introduces concurrent evaluation of independent
// nodes — only concurrent *access* to already-computed results.
type Cache struct {
	mu         sync.RWMutex
	records    map[ShortID]*NodeRecord
	requiredBy map[ShortID]map[ShortID]struct{}
	idMap      map[ShortID]LongID
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		records:    make(map[ShortID]*NodeRecord),
		requiredBy: make(map[ShortID]map[ShortID]struct{}),
		idMap:      make(map[ShortID]LongID),
	}
}

// RememberID records the short→long mapping for a short id, per spec.md
// §3 ("a process-wide map short → long populated on every call"). Per
// invariant 3, a short id already mapped to a different long id is a
// collision and is reported rather than silently overwritten.
func (c *Cache) RememberID(short ShortID, long LongID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.idMap[short]; ok && !reflect.DeepEqual(existing, long) {
		return ErrIdentityCollision
	}
	c.idMap[short] = long
	return nil
}

// IDMap returns a snapshot copy of the id map for diagnostic inspection
// (spec.md §6 "engine.id_map"). Read-only by contract; mutating the
// returned map has no effect on the engine.
func (c *Cache) IDMap() map[ShortID]LongID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ShortID]LongID, len(c.idMap))
	for k, v := range c.idMap {
		out[k] = v
	}
	return out
}

// Get returns the cached record for id, or (nil, false) if absent.
func (c *Cache) Get(id ShortID) (*NodeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// Put unconditionally overwrites the record at id with value and requires,
// maintaining the reverse index by removing id from its previous
// dependencies' requiredBy sets before installing the new ones.
func (c *Cache) Put(id ShortID, value any, requires map[ShortID]struct{}, long LongID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlink(id)
	rec := newNodeRecord(requires, long)
	rec.Value = value
	c.records[id] = rec
	for dep := range requires {
		if c.requiredBy[dep] == nil {
			c.requiredBy[dep] = make(map[ShortID]struct{})
		}
		c.requiredBy[dep][id] = struct{}{}
	}
}

// PutRequires installs a record's dependency set before the underlying
// function has actually been invoked (spec.md §4.E step 4), with no
// value yet present. Used by engine.go's invoke sequence.
func (c *Cache) PutRequires(id ShortID, requires map[ShortID]struct{}, long LongID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlink(id)
	c.records[id] = newNodeRecord(requires, long)
	for dep := range requires {
		if c.requiredBy[dep] == nil {
			c.requiredBy[dep] = make(map[ShortID]struct{})
		}
		c.requiredBy[dep][id] = struct{}{}
	}
}

// SetValue writes value into an existing (or newly created) record
// without touching its requires set, per wrapper.set_value's contract
// (spec.md §4.E: "Does not invalidate required-by nodes").
func (c *Cache) SetValue(id ShortID, value any, long LongID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		rec = newNodeRecord(make(map[ShortID]struct{}), long)
		c.records[id] = rec
	}
	rec.Value = value
}

// unlink removes id's record and unlinks it from the reverse index.
// Caller must hold c.mu.
func (c *Cache) unlink(id ShortID) {
	if rec, ok := c.records[id]; ok {
		for dep := range rec.Requires {
			delete(c.requiredBy[dep], id)
			if len(c.requiredBy[dep]) == 0 {
				delete(c.requiredBy, dep)
			}
		}
		delete(c.records, id)
	}
}

// RequiredBy computes the transitive reverse closure of id: every node
// whose (possibly indirect) requires set contains id, per spec.md §4.C
// operation 3. Each round follows the reverse index from the ids added in
// the previous round only; an id already in the result is not expanded
// again. The set reached is the same one the source's full-table fixed
// point (original_source/calcengine/base.py's required_by) computes.
func (c *Cache) RequiredBy(id ShortID) map[ShortID]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[ShortID]struct{})
	frontier := []ShortID{id}
	for len(frontier) > 0 {
		var next []ShortID
		for _, f := range frontier {
			for dependent := range c.requiredBy[f] {
				if _, seen := result[dependent]; seen {
					continue
				}
				result[dependent] = struct{}{}
				next = append(next, dependent)
			}
		}
		frontier = next
	}
	return result
}

// Invalidate deletes id and every node that transitively requires it,
// returning the number of records removed (the invalidation cascade size).
func (c *Cache) Invalidate(id ShortID) int {
	toDelete := c.RequiredBy(id)
	toDelete[id] = struct{}{}
	c.mu.Lock()
	defer c.mu.Unlock()
	for victim := range toDelete {
		c.unlink(victim)
	}
	return len(toDelete)
}

// InvalidateRequiredByOnly deletes every node that transitively requires
// id, but not id itself — the exact shape set_value_and_invalidate needs
// (spec.md §9: "the source's set_value_and_invalidate deletes the
// required-by set but leaves the node's own newly-set value in place").
func (c *Cache) InvalidateRequiredByOnly(id ShortID) {
	toDelete := c.RequiredBy(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	for victim := range toDelete {
		c.unlink(victim)
	}
}

// Clear drops every record and the id map (spec.md §4.C operation 5).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[ShortID]*NodeRecord)
	c.requiredBy = make(map[ShortID]map[ShortID]struct{})
	c.idMap = make(map[ShortID]LongID)
}

// Snapshot returns a read-only copy of every record, for diagnostic
// inspection (spec.md §6 "engine.cache: read-only inspection permitted")
// and for structural persistence (snapshot.go).
func (c *Cache) Snapshot() map[ShortID]NodeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ShortID]NodeRecord, len(c.records))
	for k, v := range c.records {
		out[k] = *v
	}
	return out
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
