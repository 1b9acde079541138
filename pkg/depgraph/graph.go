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

package depgraph

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/depgraph/dag"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Graph is the dependency graph of one calculation configuration. It is
// immutable: pruning and subgraph operations return new graphs.
type Graph struct {
	config string
	// nodes in insertion order; a producer is always inserted before its
	// consumers.
	nodes  []*Node
	bySpec map[value.Specification]*Node
	// terminal maps each requested output to the requirements it satisfies.
	terminal map[value.Specification][]value.Requirement
}

// NewGraph returns an empty graph for a calculation configuration.
func NewGraph(config string) *Graph {
	return &Graph{
		config:   config,
		bySpec:   make(map[value.Specification]*Node),
		terminal: make(map[value.Specification][]value.Requirement),
	}
}

func (g *Graph) clone() *Graph {
	c := &Graph{
		config:   g.config,
		nodes:    append([]*Node(nil), g.nodes...),
		bySpec:   make(map[value.Specification]*Node, len(g.bySpec)),
		terminal: make(map[value.Specification][]value.Requirement, len(g.terminal)),
	}
	for k, v := range g.bySpec {
		c.bySpec[k] = v
	}
	for k, v := range g.terminal {
		c.terminal[k] = append([]value.Requirement(nil), v...)
	}
	return c
}

func (g *Graph) addNode(n *Node) {
	g.nodes = append(g.nodes, n)
	g.bySpec[n.Output] = n
}

func (g *Graph) addTerminal(spec value.Specification, req value.Requirement) {
	for _, r := range g.terminal[spec] {
		if r == req {
			return
		}
	}
	g.terminal[spec] = append(g.terminal[spec], req)
}

// CalculationConfigurationName returns the owning configuration.
func (g *Graph) CalculationConfigurationName() string { return g.config }

// Size returns the number of nodes.
func (g *Graph) Size() int { return len(g.nodes) }

// Nodes returns the nodes, producers before consumers.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// Node returns the node producing spec.
func (g *Graph) Node(spec value.Specification) (*Node, bool) {
	n, ok := g.bySpec[spec]
	return n, ok
}

// TerminalOutputs returns the requested outputs and the requirements each
// one satisfies.
func (g *Graph) TerminalOutputs() map[value.Specification][]value.Requirement {
	out := make(map[value.Specification][]value.Requirement, len(g.terminal))
	for k, v := range g.terminal {
		out[k] = append([]value.Requirement(nil), v...)
	}
	return out
}

// TerminalOutputSpecifications returns the requested outputs sorted by
// their string form.
func (g *Graph) TerminalOutputSpecifications() []value.Specification {
	specs := make([]value.Specification, 0, len(g.terminal))
	for spec := range g.terminal {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].String() < specs[j].String() })
	return specs
}

// AllComputationTargets returns every target a node executes against.
func (g *Graph) AllComputationTargets() sets.Set[target.Specification] {
	s := sets.New[target.Specification]()
	for _, n := range g.nodes {
		s.Insert(n.Target)
	}
	return s
}

func (g *Graph) consumed() sets.Set[value.Specification] {
	s := sets.New[value.Specification]()
	for _, n := range g.nodes {
		s.Insert(n.Inputs...)
	}
	return s
}

// RootNodes returns the nodes whose output no other node consumes.
func (g *Graph) RootNodes() []*Node {
	consumed := g.consumed()
	var roots []*Node
	for _, n := range g.nodes {
		if !consumed.Has(n.Output) {
			roots = append(roots, n)
		}
	}
	return roots
}

// LeafNodes returns the nodes without inputs.
func (g *Graph) LeafNodes() []*Node {
	var leaves []*Node
	for _, n := range g.nodes {
		if len(n.Inputs) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// MarketDataRequirements returns the outputs of market data nodes, which
// the execution engine must source before running the graph.
func (g *Graph) MarketDataRequirements() []value.Specification {
	var specs []value.Specification
	for _, n := range g.nodes {
		if n.IsMarketData() {
			specs = append(specs, n.Output)
		}
	}
	return specs
}

// WithoutUnnecessaryValues returns a copy without nodes whose output is
// neither a terminal output nor consumed by a remaining node. The receiver
// is returned unchanged when nothing is removed.
func (g *Graph) WithoutUnnecessaryValues() *Graph {
	keep := sets.New[value.Specification]()
	for spec := range g.terminal {
		if _, ok := g.bySpec[spec]; ok {
			keep.Insert(spec)
		}
	}
	// Walk consumers before producers so every kept node marks its inputs.
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if keep.Has(n.Output) {
			keep.Insert(n.Inputs...)
		}
	}
	if keep.Len() == len(g.nodes) {
		return g
	}
	pruned := NewGraph(g.config)
	for _, n := range g.nodes {
		if keep.Has(n.Output) {
			pruned.addNode(n)
		}
	}
	for spec, reqs := range g.terminal {
		if keep.Has(spec) {
			pruned.terminal[spec] = append([]value.Requirement(nil), reqs...)
		}
	}
	return pruned
}

// WithoutTargets returns a copy without the nodes executing against any of
// the given objects and without every node that transitively consumes
// them. It also returns the terminal requirements the removed nodes
// satisfied, so they can be resolved again.
func (g *Graph) WithoutTargets(objects sets.Set[id.ObjectID]) (*Graph, []value.Requirement) {
	removed := sets.New[value.Specification]()
	for _, n := range g.nodes {
		if objects.Has(n.Target.UniqueID.ObjectID()) {
			removed.Insert(n.Output)
			continue
		}
		for _, in := range n.Inputs {
			if removed.Has(in) {
				removed.Insert(n.Output)
				break
			}
		}
	}
	if removed.Len() == 0 {
		return g, nil
	}
	sub := NewGraph(g.config)
	for _, n := range g.nodes {
		if !removed.Has(n.Output) {
			sub.addNode(n)
		}
	}
	var requeue []value.Requirement
	for _, spec := range g.TerminalOutputSpecifications() {
		reqs := g.terminal[spec]
		if removed.Has(spec) {
			requeue = append(requeue, reqs...)
			continue
		}
		sub.terminal[spec] = append([]value.Requirement(nil), reqs...)
	}
	return sub, requeue
}

// DAG returns the graph as a DAG keyed by the string form of each node's
// output, with an edge from every input to its consumer.
func (g *Graph) DAG() (*dag.DirectedAcyclicGraph[string], error) {
	d := dag.NewDirectedAcyclicGraph[string]()
	for i, n := range g.nodes {
		if err := d.AddVertex(n.Output.String(), i); err != nil {
			return nil, err
		}
	}
	for _, n := range g.nodes {
		deps := make([]string, 0, len(n.Inputs))
		for _, in := range n.Inputs {
			if _, ok := g.bySpec[in]; !ok {
				return nil, fmt.Errorf("node %s: input %s has no producer", n, in)
			}
			deps = append(deps, in.String())
		}
		if err := d.AddDependencies(n.Output.String(), deps); err != nil {
			return nil, fmt.Errorf("node %s: %w", n, err)
		}
	}
	return d, nil
}

func (g *Graph) index() map[string]*Node {
	m := make(map[string]*Node, len(g.nodes))
	for _, n := range g.nodes {
		m[n.Output.String()] = n
	}
	return m
}

// TopologicalOrder returns the nodes in an execution order.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	d, err := g.DAG()
	if err != nil {
		return nil, err
	}
	keys, err := d.TopologicalSort()
	if err != nil {
		return nil, err
	}
	idx := g.index()
	out := make([]*Node, len(keys))
	for i, k := range keys {
		out[i] = idx[k]
	}
	return out, nil
}

// ExecutionLevels groups nodes into levels that can each run in parallel
// once the previous levels are complete.
func (g *Graph) ExecutionLevels() ([][]*Node, error) {
	d, err := g.DAG()
	if err != nil {
		return nil, err
	}
	levels, err := d.TopologicalSortLevels()
	if err != nil {
		return nil, err
	}
	idx := g.index()
	out := make([][]*Node, len(levels))
	for i, level := range levels {
		out[i] = make([]*Node, len(level))
		for j, k := range level {
			out[i][j] = idx[k]
		}
	}
	return out, nil
}

// NodeFunc is called for each node by Walk.
type NodeFunc func(ctx context.Context, n *Node) error

// Walk calls fn for every node, each after all of its producers
// succeeded, with bounded parallelism. It returns the errors by node
// output; nodes downstream of a failure report dag.ErrDependencyFailed.
func (g *Graph) Walk(ctx context.Context, fn NodeFunc, opts dag.WalkOptions) (map[value.Specification]error, error) {
	d, err := g.DAG()
	if err != nil {
		return nil, err
	}
	idx := g.index()
	errs := dag.Walk(ctx, d, func(ctx context.Context, key string) error {
		return fn(ctx, idx[key])
	}, opts)
	out := make(map[value.Specification]error, len(errs))
	for k, e := range errs {
		out[idx[k].Output] = e
	}
	return out, nil
}
