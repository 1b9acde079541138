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

package compiler

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/depgraph"
	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/resolution"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
	"github.com/joequant/OG-Platform/pkg/view"
)

// CompiledViewDefinition is the immutable result of a compilation: one
// dependency graph per calculation configuration, the pruned resolution
// map, and the data versions it is valid for.
type CompiledViewDefinition struct {
	viewDefinition     *view.ViewDefinition
	versionCorrection  id.VersionCorrection
	valuationTime      time.Time
	portfolio          *position.Portfolio
	functionGeneration string
	names              []string
	graphs             map[string]*depgraph.Graph
	failures           map[string][]depgraph.Failure
	resolutions        map[target.Reference]id.UniqueID
}

// ViewDefinition returns the compiled definition.
func (c *CompiledViewDefinition) ViewDefinition() *view.ViewDefinition { return c.viewDefinition }

// VersionCorrection returns the version-correction the graphs are valid for.
func (c *CompiledViewDefinition) VersionCorrection() id.VersionCorrection {
	return c.versionCorrection
}

// ValuationTime returns the valuation time the graphs were built for.
func (c *CompiledViewDefinition) ValuationTime() time.Time { return c.valuationTime }

// Portfolio returns the resolved portfolio, or nil when no configuration
// needed portfolio outputs.
func (c *CompiledViewDefinition) Portfolio() *position.Portfolio { return c.portfolio }

// FunctionGeneration returns the function repository generation the graphs
// were built from.
func (c *CompiledViewDefinition) FunctionGeneration() string { return c.functionGeneration }

// IsStale reports whether the function repository changed since
// compilation.
func (c *CompiledViewDefinition) IsStale(repo function.Repository) bool {
	return repo.Generation() != c.functionGeneration
}

// CalculationConfigurationNames returns the configuration names in view
// order.
func (c *CompiledViewDefinition) CalculationConfigurationNames() []string {
	return append([]string(nil), c.names...)
}

// Graph returns the graph of a configuration.
func (c *CompiledViewDefinition) Graph(config string) (*depgraph.Graph, bool) {
	g, ok := c.graphs[config]
	return g, ok
}

// Graphs returns every graph in view order.
func (c *CompiledViewDefinition) Graphs() []*depgraph.Graph {
	out := make([]*depgraph.Graph, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.graphs[name])
	}
	return out
}

// Failures returns the resolution failures of a configuration.
func (c *CompiledViewDefinition) Failures(config string) []depgraph.Failure {
	return append([]depgraph.Failure(nil), c.failures[config]...)
}

// Resolutions returns a copy of the pruned resolution map.
func (c *CompiledViewDefinition) Resolutions() map[target.Reference]id.UniqueID {
	out := make(map[target.Reference]id.UniqueID, len(c.resolutions))
	for k, v := range c.resolutions {
		out[k] = v
	}
	return out
}

// AllComputationTargets returns every target any graph executes against.
func (c *CompiledViewDefinition) AllComputationTargets() sets.Set[target.Specification] {
	all := sets.New[target.Specification]()
	for _, g := range c.graphs {
		all = all.Union(g.AllComputationTargets())
	}
	return all
}

// MarketDataRequirements returns the market data each configuration needs.
func (c *CompiledViewDefinition) MarketDataRequirements() map[string][]value.Specification {
	out := make(map[string][]value.Specification, len(c.graphs))
	for name, g := range c.graphs {
		out[name] = g.MarketDataRequirements()
	}
	return out
}

// Previous returns the state an incremental compilation starts from.
func (c *CompiledViewDefinition) Previous() Previous {
	graphs := make(map[string]PreviousGraph, len(c.graphs))
	for name, g := range c.graphs {
		graphs[name] = PreviousGraph{Graph: g}
	}
	return Previous{Graphs: graphs, Resolutions: resolution.FromSnapshot(c.resolutions)}
}

// PreviousGraph is the prior state of one configuration.
type PreviousGraph struct {
	Graph *depgraph.Graph
	// Requirements are added to the seeded builder before expansion, e.g.
	// requirements invalidated since the graph was built.
	Requirements []value.Requirement
}

// Previous is the prior state of a whole view.
type Previous struct {
	Graphs      map[string]PreviousGraph
	Resolutions *resolution.Map
}
