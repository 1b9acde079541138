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

// Package value models what a view asks for (requirements) and what a
// function produces (specifications), together with the property sets that
// constrain and describe them.
package value

import (
	"encoding/json"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"weak"
)

// Properties is an immutable set of named properties. A property with no
// values is a wildcard: in a constraint it means "any value, but present",
// in an output it means "can produce any value".
//
// Equal property sets share one interned representation, so Properties is
// comparable with == and usable inside map keys. The intern table holds
// weak references: a set nobody uses any more is dropped after GC.
type Properties struct {
	d *propertyData
}

type propertyData struct {
	values map[string][]string
	names  []string
	key    string
}

var (
	internMu sync.Mutex
	interned = make(map[string]weak.Pointer[propertyData])
)

func intern(d *propertyData) *propertyData {
	internMu.Lock()
	defer internMu.Unlock()
	if wp, ok := interned[d.key]; ok {
		if existing := wp.Value(); existing != nil {
			return existing
		}
	}
	interned[d.key] = weak.Make(d)
	runtime.AddCleanup(d, forget, d.key)
	return d
}

// forget drops a collected entry unless the key was interned again.
func forget(key string) {
	internMu.Lock()
	defer internMu.Unlock()
	if wp, ok := interned[key]; ok && wp.Value() == nil {
		delete(interned, key)
	}
}

func internedLen() int {
	internMu.Lock()
	defer internMu.Unlock()
	return len(interned)
}

// NewProperties builds a property set from a map. Values are deduplicated
// and sorted.
func NewProperties(m map[string][]string) Properties {
	if len(m) == 0 {
		return Properties{}
	}
	values := make(map[string][]string, len(m))
	names := make([]string, 0, len(m))
	for name, vs := range m {
		vs = slices.Clone(vs)
		sort.Strings(vs)
		values[name] = slices.Compact(vs)
		if values[name] == nil {
			values[name] = []string{}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	raw, err := json.Marshal(values)
	if err != nil {
		// map[string][]string always marshals
		panic(err)
	}
	return Properties{d: intern(&propertyData{values: values, names: names, key: string(raw)})}
}

// Props builds a property set from name/value pairs. A name listed with an
// empty value ("Name", "") is recorded as a wildcard.
func Props(pairs ...string) Properties {
	m := make(map[string][]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name, v := pairs[i], pairs[i+1]
		if _, ok := m[name]; !ok {
			m[name] = []string{}
		}
		if v != "" {
			m[name] = append(m[name], v)
		}
	}
	return NewProperties(m)
}

// IsEmpty reports whether the set has no properties.
func (p Properties) IsEmpty() bool { return p.d == nil }

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	if p.d == nil {
		return nil
	}
	return slices.Clone(p.d.names)
}

// Values returns the values of a property and whether it is present. An
// empty, present result is a wildcard.
func (p Properties) Values(name string) ([]string, bool) {
	if p.d == nil {
		return nil, false
	}
	vs, ok := p.d.values[name]
	return slices.Clone(vs), ok
}

// Map returns a copy of the property set.
func (p Properties) Map() map[string][]string {
	out := make(map[string][]string)
	if p.d == nil {
		return out
	}
	for name, vs := range p.d.values {
		out[name] = slices.Clone(vs)
	}
	return out
}

// With returns a copy with name set to values. Without values the property
// becomes a wildcard.
func (p Properties) With(name string, values ...string) Properties {
	m := p.Map()
	m[name] = values
	return NewProperties(m)
}

// IsSatisfiedBy reports whether output properties satisfy p used as a
// constraint set.
func (p Properties) IsSatisfiedBy(output Properties) bool {
	if p.d == nil {
		return true
	}
	for _, name := range p.d.names {
		want := p.d.values[name]
		have, ok := output.lookup(name)
		if !ok {
			return false
		}
		if len(want) == 0 || len(have) == 0 {
			continue
		}
		if !intersects(want, have) {
			return false
		}
	}
	return true
}

// ExactMatches counts the constraints in p met by an explicit (non
// wildcard) value in output.
func (p Properties) ExactMatches(output Properties) int {
	if p.d == nil {
		return 0
	}
	n := 0
	for _, name := range p.d.names {
		want := p.d.values[name]
		have, ok := output.lookup(name)
		if ok && len(want) > 0 && len(have) > 0 && intersects(want, have) {
			n++
		}
	}
	return n
}

// Compose narrows p, used as output properties, by a constraint set.
// Wildcard outputs take the constraint's values; explicit outputs keep the
// values both sides allow.
func (p Properties) Compose(constraints Properties) Properties {
	if constraints.d == nil || p.d == nil {
		return p
	}
	m := p.Map()
	changed := false
	for _, name := range constraints.d.names {
		want := constraints.d.values[name]
		have, ok := m[name]
		if !ok || len(want) == 0 {
			continue
		}
		if len(have) == 0 {
			m[name] = slices.Clone(want)
			changed = true
			continue
		}
		var both []string
		for _, v := range have {
			if slices.Contains(want, v) {
				both = append(both, v)
			}
		}
		if len(both) != len(have) {
			m[name] = both
			changed = true
		}
	}
	if !changed {
		return p
	}
	return NewProperties(m)
}

func (p Properties) lookup(name string) ([]string, bool) {
	if p.d == nil {
		return nil, false
	}
	vs, ok := p.d.values[name]
	return vs, ok
}

func (p Properties) String() string {
	if p.d == nil {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range p.d.names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		if vs := p.d.values[name]; len(vs) == 0 {
			b.WriteByte('*')
		} else {
			b.WriteString("[" + strings.Join(vs, ",") + "]")
		}
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON renders the property set as an object of value lists.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p.d == nil {
		return []byte("{}"), nil
	}
	return []byte(p.d.key), nil
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if _, found := slices.BinarySearch(b, v); found {
			return true
		}
	}
	return false
}
