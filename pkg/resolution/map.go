// Copyright 2025 The Kubernetes Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resolution tracks which unique id every target reference
// resolved to during a compilation.
package resolution

import (
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
)

// Map is a concurrent map from target reference to resolved unique id.
// The first resolution of a reference wins.
type Map struct {
	mu      sync.RWMutex
	entries map[target.Reference]id.UniqueID
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: make(map[target.Reference]id.UniqueID)}
}

// FromSnapshot returns a map holding a copy of entries.
func FromSnapshot(entries map[target.Reference]id.UniqueID) *Map {
	m := NewMap()
	for k, v := range entries {
		m.entries[k] = v
	}
	return m
}

// Get returns the unique id ref resolved to.
func (m *Map) Get(ref target.Reference) (id.UniqueID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.entries[ref]
	return uid, ok
}

// PutIfAbsent records a resolution unless ref is already present. It
// returns the id now stored and whether uid was inserted.
func (m *Map) PutIfAbsent(ref target.Reference, uid id.UniqueID) (id.UniqueID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[ref]; ok {
		return existing, false
	}
	m.entries[ref] = uid
	return uid, true
}

// Put records a resolution, replacing any previous one.
func (m *Map) Put(ref target.Reference, uid id.UniqueID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ref] = uid
}

// Delete removes a resolution.
func (m *Map) Delete(ref target.Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ref)
}

// Len returns the number of resolutions.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Snapshot returns a copy of the resolutions.
func (m *Map) Snapshot() map[target.Reference]id.UniqueID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[target.Reference]id.UniqueID, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map { return FromSnapshot(m.Snapshot()) }

// Prune removes every resolution whose id is not in valid, except those
// the retention policy keeps. It returns the number removed.
func (m *Map) Prune(valid sets.Set[id.UniqueID], retain RetentionPolicy) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for ref, uid := range m.entries {
		if valid.Has(uid) || (retain != nil && retain(ref)) {
			continue
		}
		delete(m.entries, ref)
		removed++
	}
	return removed
}

// ForgetObjects removes every resolution to a version of the given objects
// so they resolve afresh. It returns the number removed.
func (m *Map) ForgetObjects(objects sets.Set[id.ObjectID]) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for ref, uid := range m.entries {
		if objects.Has(uid.ObjectID()) {
			delete(m.entries, ref)
			removed++
		}
	}
	return removed
}

// RetentionPolicy reports whether a resolution must survive pruning even
// when no graph references its id.
type RetentionPolicy func(ref target.Reference) bool

// RetainTypes keeps resolutions of the given target types.
func RetainTypes(types ...target.Type) RetentionPolicy {
	keep := sets.New(types...)
	return func(ref target.Reference) bool { return keep.Has(ref.Type) }
}

// DefaultRetention keeps position resolutions: functions may look
// positions up without the position appearing as a node target.
var DefaultRetention = RetainTypes(target.TypePosition)
