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

package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build creates a graph from comma separated nodes (ordered by position) and
// "A->B" edges meaning B depends on A.
func build(t *testing.T, nodes, edges string) *DirectedAcyclicGraph[string] {
	t.Helper()
	d := NewDirectedAcyclicGraph[string]()
	for i, node := range strings.Split(nodes, ",") {
		require.NoError(t, d.AddVertex(node, i))
	}
	if edges == "" {
		return d
	}
	for _, edge := range strings.Split(edges, ",") {
		tokens := strings.SplitN(edge, "->", 2)
		require.NoError(t, d.AddDependencies(tokens[1], []string{tokens[0]}), "adding edge %q", edge)
	}
	return d
}

func TestAddVertexAndDependencies(t *testing.T) {
	d := NewDirectedAcyclicGraph[string]()
	require.NoError(t, d.AddVertex("A", 1))
	require.Error(t, d.AddVertex("A", 1))
	require.NoError(t, d.AddVertex("B", 2))

	require.NoError(t, d.AddDependencies("A", []string{"B"}))
	assert.Error(t, d.AddDependencies("A", []string{"C"}))
	assert.Error(t, d.AddDependencies("A", []string{"A"}))
	assert.Error(t, d.AddDependencies("Z", []string{"A"}))
	assert.Len(t, d.Vertices["A"].DependsOn, 1)
}

func TestCycleRejected(t *testing.T) {
	d := build(t, "A,B,C", "B->A,C->B")
	cyclic, _ := d.hasCycle()
	assert.False(t, cyclic)

	err := d.AddDependencies("C", []string{"A"})
	require.Error(t, err)
	ce := AsCycleError[string](err)
	require.NotNil(t, ce)
	assert.Equal(t, ce.Cycle[0], ce.Cycle[len(ce.Cycle)-1])
	assert.Empty(t, d.Vertices["C"].DependsOn, "rejected edge must be rolled back")

	d.Vertices["C"].DependsOn["A"] = struct{}{}
	cyclic, _ = d.hasCycle()
	assert.True(t, cyclic)
	_, err = d.TopologicalSort()
	assert.NotNil(t, AsCycleError[string](err))
	_, err = d.TopologicalSortLevels()
	assert.NotNil(t, AsCycleError[string](err))
}

func TestTopologicalSort(t *testing.T) {
	grid := []struct {
		nodes, edges, want string
	}{
		{nodes: "A,B", want: "A,B"},
		{nodes: "A,B", edges: "B->A", want: "B,A"},
		{nodes: "A,B,C,D,E,F", edges: "D->C", want: "A,B,D,E,F,C"},
		{nodes: "A,B,C,D,E,F", edges: "F->A,F->B,B->A", want: "C,D,E,F,B,A"},
		{nodes: "A,B,C,D,E,F", edges: "B->A,C->A,D->B,D->C,F->E,A->E", want: "D,F,B,C,A,E"},
	}
	for i, g := range grid {
		t.Run(fmt.Sprintf("[%d] %s", i, g.edges), func(t *testing.T) {
			d := build(t, g.nodes, g.edges)
			order, err := d.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, g.want, strings.Join(order, ","))

			pos := make(map[string]int)
			for i, n := range order {
				pos[n] = i
			}
			for _, n := range order {
				for dep := range d.Vertices[n].DependsOn {
					assert.Less(t, pos[dep], pos[n])
				}
			}
		})
	}
}

func TestTopologicalSortLevels(t *testing.T) {
	grid := []struct {
		name, nodes, edges string
		want               [][]string
	}{
		{name: "chain", nodes: "A,B,C", edges: "A->B,B->C", want: [][]string{{"A"}, {"B"}, {"C"}}},
		{name: "diamond", nodes: "A,B,C,D", edges: "A->B,A->C,B->D,C->D", want: [][]string{{"A"}, {"B", "C"}, {"D"}}},
		{name: "independent", nodes: "A,B,C", want: [][]string{{"A", "B", "C"}}},
		{name: "order kept within level", nodes: "Z,Y,X,W,V,U", edges: "Z->U,Y->U,X->U", want: [][]string{{"Z", "Y", "X", "W", "V"}, {"U"}}},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			levels, err := build(t, g.nodes, g.edges).TopologicalSortLevels()
			require.NoError(t, err)
			assert.Equal(t, g.want, levels)
		})
	}
}

func TestWalkOrder(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		t.Run(fmt.Sprintf("reverse=%v", reverse), func(t *testing.T) {
			d := build(t, "A,B,C,D", "A->B,A->C,B->D,C->D")
			var mu sync.Mutex
			var seen []string
			errs := Walk(context.Background(), d, func(_ context.Context, id string) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, id)
				return nil
			}, WalkOptions{Parallelism: 2, Reverse: reverse})
			assert.Empty(t, errs)
			require.Len(t, seen, 4)
			first, last := "A", "D"
			if reverse {
				first, last = "D", "A"
			}
			assert.Equal(t, first, seen[0])
			assert.Equal(t, last, seen[3])
		})
	}
}

func TestWalkSkipsDependentsOfFailures(t *testing.T) {
	d := build(t, "A,B,C,D", "A->B,B->C")
	boom := errors.New("boom")
	var mu sync.Mutex
	ran := map[string]bool{}
	errs := Walk(context.Background(), d, func(_ context.Context, id string) error {
		mu.Lock()
		ran[id] = true
		mu.Unlock()
		if id == "B" {
			return boom
		}
		return nil
	}, WalkOptions{Parallelism: 4})

	assert.ErrorIs(t, errs["B"], boom)
	assert.ErrorIs(t, errs["C"], ErrDependencyFailed)
	assert.NotContains(t, errs, "A")
	assert.NotContains(t, errs, "D")
	assert.False(t, ran["C"])
	assert.True(t, ran["D"])
}

func TestWalkEmpty(t *testing.T) {
	errs := Walk(context.Background(), NewDirectedAcyclicGraph[int](), func(context.Context, int) error {
		return errors.New("never called")
	}, WalkOptions{})
	assert.Empty(t, errs)
}
