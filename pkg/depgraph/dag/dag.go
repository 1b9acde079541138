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

// Package dag implements a generic directed acyclic graph with ordered
// topological sorting and a bounded-parallelism walk.
package dag

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Vertex is a node of the graph. Order breaks ties between vertices that
// could be emitted at the same point of a topological sort.
type Vertex[T cmp.Ordered] struct {
	ID        T
	Order     int
	DependsOn map[T]struct{}
}

// DirectedAcyclicGraph is a set of vertices and dependency edges. Edges that
// would close a cycle are rejected.
type DirectedAcyclicGraph[T cmp.Ordered] struct {
	Vertices map[T]*Vertex[T]
}

// NewDirectedAcyclicGraph returns an empty graph.
func NewDirectedAcyclicGraph[T cmp.Ordered]() *DirectedAcyclicGraph[T] {
	return &DirectedAcyclicGraph[T]{Vertices: make(map[T]*Vertex[T])}
}

// AddVertex adds a vertex. Adding an existing id is an error.
func (d *DirectedAcyclicGraph[T]) AddVertex(id T, order int) error {
	if _, exists := d.Vertices[id]; exists {
		return fmt.Errorf("node %v already exists", id)
	}
	d.Vertices[id] = &Vertex[T]{ID: id, Order: order, DependsOn: make(map[T]struct{})}
	return nil
}

// CycleError reports the vertices forming a cycle.
type CycleError[T cmp.Ordered] struct {
	Cycle []T
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, v := range e.Cycle {
		parts[i] = fmt.Sprint(v)
	}
	return "graph contains a cycle: " + strings.Join(parts, " -> ")
}

// AsCycleError returns err as a *CycleError, or nil.
func AsCycleError[T cmp.Ordered](err error) *CycleError[T] {
	var ce *CycleError[T]
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// AddDependencies records that from depends on every vertex in deps. The
// graph is left unchanged if any edge is invalid or closes a cycle.
func (d *DirectedAcyclicGraph[T]) AddDependencies(from T, deps []T) error {
	v, ok := d.Vertices[from]
	if !ok {
		return fmt.Errorf("node %v does not exist", from)
	}
	var added []T
	for _, dep := range deps {
		if dep == from {
			d.rollback(v, added)
			return fmt.Errorf("node %v cannot depend on itself", from)
		}
		if _, ok := d.Vertices[dep]; !ok {
			d.rollback(v, added)
			return fmt.Errorf("node %v does not exist", dep)
		}
		if _, exists := v.DependsOn[dep]; exists {
			continue
		}
		v.DependsOn[dep] = struct{}{}
		added = append(added, dep)
	}
	if cyclic, cycle := d.hasCycle(); cyclic {
		d.rollback(v, added)
		return &CycleError[T]{Cycle: cycle}
	}
	return nil
}

func (d *DirectedAcyclicGraph[T]) rollback(v *Vertex[T], added []T) {
	for _, dep := range added {
		delete(v.DependsOn, dep)
	}
}

// hasCycle runs a depth first search and returns the first cycle found.
func (d *DirectedAcyclicGraph[T]) hasCycle() (bool, []T) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[T]int, len(d.Vertices))
	var path []T

	var visit func(T) []T
	visit = func(id T) []T {
		state[id] = visiting
		path = append(path, id)
		for _, dep := range d.sortedDeps(id) {
			switch state[dep] {
			case visiting:
				start := slices.Index(path, dep)
				cycle := slices.Clone(path[start:])
				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		return nil
	}

	for _, v := range d.sortedVertices() {
		if state[v.ID] == unvisited {
			if cycle := visit(v.ID); cycle != nil {
				return true, cycle
			}
		}
	}
	return false, nil
}

func (d *DirectedAcyclicGraph[T]) sortedVertices() []*Vertex[T] {
	vertices := make([]*Vertex[T], 0, len(d.Vertices))
	for _, v := range d.Vertices {
		vertices = append(vertices, v)
	}
	sort.Slice(vertices, func(i, j int) bool {
		if vertices[i].Order != vertices[j].Order {
			return vertices[i].Order < vertices[j].Order
		}
		return vertices[i].ID < vertices[j].ID
	})
	return vertices
}

func (d *DirectedAcyclicGraph[T]) sortedDeps(id T) []T {
	deps := make([]T, 0, len(d.Vertices[id].DependsOn))
	for dep := range d.Vertices[id].DependsOn {
		deps = append(deps, dep)
	}
	slices.Sort(deps)
	return deps
}

// TopologicalSort returns the vertices with every vertex after its
// dependencies. Repeated passes over the vertices in Order emit each vertex
// whose dependencies are already emitted, so independent vertices keep
// their relative Order.
func (d *DirectedAcyclicGraph[T]) TopologicalSort() ([]T, error) {
	if cyclic, cycle := d.hasCycle(); cyclic {
		return nil, &CycleError[T]{Cycle: cycle}
	}
	vertices := d.sortedVertices()
	emitted := make(map[T]bool, len(vertices))
	order := make([]T, 0, len(vertices))
	for len(order) < len(vertices) {
		progress := false
		for _, v := range vertices {
			if emitted[v.ID] || !allIn(v.DependsOn, emitted) {
				continue
			}
			order = append(order, v.ID)
			emitted[v.ID] = true
			progress = true
		}
		if !progress {
			return nil, fmt.Errorf("unable to find next vertex after %d of %d", len(order), len(vertices))
		}
	}
	return order, nil
}

// TopologicalSortLevels groups vertices into levels. Every vertex depends
// only on vertices of earlier levels, so the vertices of one level can run
// in parallel. Within a level vertices keep their Order.
func (d *DirectedAcyclicGraph[T]) TopologicalSortLevels() ([][]T, error) {
	if cyclic, cycle := d.hasCycle(); cyclic {
		return nil, &CycleError[T]{Cycle: cycle}
	}
	vertices := d.sortedVertices()
	placed := make(map[T]bool, len(vertices))
	var levels [][]T
	for n := 0; n < len(vertices); {
		var level []T
		for _, v := range vertices {
			if !placed[v.ID] && allIn(v.DependsOn, placed) {
				level = append(level, v.ID)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("unable to find next level after %d of %d vertices", n, len(vertices))
		}
		for _, id := range level {
			placed[id] = true
		}
		n += len(level)
		levels = append(levels, level)
	}
	return levels, nil
}

func allIn[T comparable](deps map[T]struct{}, set map[T]bool) bool {
	for dep := range deps {
		if !set[dep] {
			return false
		}
	}
	return true
}
