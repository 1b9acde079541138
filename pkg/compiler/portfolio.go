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
	"context"
	"fmt"
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/depgraph"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/resolution"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
	"github.com/joequant/OG-Platform/pkg/view"
)

// CompilationContext is what requirement compilers see of a running
// compilation.
type CompilationContext struct {
	ViewDefinition    *view.ViewDefinition
	ValuationTime     time.Time
	VersionCorrection id.VersionCorrection
	// Portfolio is nil unless some configuration needs portfolio outputs.
	Portfolio *position.Portfolio
	// Resolver records into the compilation's resolution map.
	Resolver target.Resolver
	builders map[string]*depgraph.Builder
}

// Builder returns the graph builder of a configuration.
func (c *CompilationContext) Builder(config string) (*depgraph.Builder, bool) {
	b, ok := c.builders[config]
	return b, ok
}

// PortfolioCompiler expands portfolio-level requirements into the builders.
type PortfolioCompiler interface {
	// ExpandFull adds requirements for the whole portfolio.
	ExpandFull(ctx context.Context, cc *CompilationContext, resolutions *resolution.Map) error
	// ExpandIncremental adds requirements for the changed positions only.
	ExpandIncremental(ctx context.Context, cc *CompilationContext, resolutions *resolution.Map, changed sets.Set[id.ObjectID]) error
}

// RequirementsCompiler adds requirements that do not depend on the
// portfolio.
type RequirementsCompiler interface {
	Expand(cc *CompilationContext) error
}

// specificRequirementsCompiler adds each configuration's explicit
// requirements to its builder.
type specificRequirementsCompiler struct{}

func newSpecificRequirementsCompiler() *specificRequirementsCompiler {
	return &specificRequirementsCompiler{}
}

func (specificRequirementsCompiler) Expand(cc *CompilationContext) error {
	for _, config := range cc.ViewDefinition.CalculationConfigurations {
		if len(config.SpecificRequirements) == 0 {
			continue
		}
		b, ok := cc.Builder(config.Name)
		if !ok {
			return fmt.Errorf("no builder for calculation configuration %q", config.Name)
		}
		b.AddTarget(config.SpecificRequirements...)
	}
	return nil
}

// portfolioCompiler is the default PortfolioCompiler. With positions
// output enabled it asks for the configured values on every position
// whose security type matches; with aggregate output enabled it asks for
// them on every portfolio node.
type portfolioCompiler struct{}

func newPortfolioCompiler() *portfolioCompiler { return &portfolioCompiler{} }

// positionReference addresses a position by object id so that the
// resolution map decides which version is used.
func positionReference(pos *position.Position) target.Reference {
	return target.NewReference(target.TypePosition, pos.UniqueID.ObjectID().AtVersion(""))
}

func (p *portfolioCompiler) ExpandFull(ctx context.Context, cc *CompilationContext, resolutions *resolution.Map) error {
	if cc.Portfolio == nil || !cc.ViewDefinition.ResultModel.PortfolioOutputsEnabled() {
		return nil
	}
	rm := cc.ViewDefinition.ResultModel
	for _, config := range cc.ViewDefinition.CalculationConfigurations {
		if !config.HasPortfolioRequirements() {
			continue
		}
		b, ok := cc.Builder(config.Name)
		if !ok {
			return fmt.Errorf("no builder for calculation configuration %q", config.Name)
		}
		if rm.PositionOutputMode.Enabled() {
			for _, pos := range cc.Portfolio.Positions() {
				if err := p.addPosition(ctx, cc, resolutions, b, config, pos); err != nil {
					return err
				}
			}
		}
		if rm.AggregatePositionOutputMode.Enabled() {
			for _, node := range cc.Portfolio.Nodes() {
				b.AddTarget(aggregateRequirements(config, node)...)
			}
		}
	}
	return nil
}

func (p *portfolioCompiler) ExpandIncremental(ctx context.Context, cc *CompilationContext, resolutions *resolution.Map, changed sets.Set[id.ObjectID]) error {
	if cc.Portfolio == nil || changed.Len() == 0 || !cc.ViewDefinition.ResultModel.PositionOutputMode.Enabled() {
		return nil
	}
	for _, config := range cc.ViewDefinition.CalculationConfigurations {
		if !config.HasPortfolioRequirements() {
			continue
		}
		b, ok := cc.Builder(config.Name)
		if !ok {
			return fmt.Errorf("no builder for calculation configuration %q", config.Name)
		}
		for _, oid := range sortedObjectIDs(changed) {
			pos, found := cc.Portfolio.FindPosition(oid)
			if !found {
				continue
			}
			if err := p.addPosition(ctx, cc, resolutions, b, config, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *portfolioCompiler) addPosition(ctx context.Context, cc *CompilationContext, resolutions *resolution.Map, b *depgraph.Builder, config *view.CalculationConfiguration, pos *position.Position) error {
	secType, err := securityType(ctx, cc, pos)
	if err != nil {
		return err
	}
	reqs := config.PortfolioRequirementsFor(secType)
	if len(reqs) == 0 {
		return nil
	}
	ref := positionReference(pos)
	resolutions.PutIfAbsent(ref, pos.UniqueID)
	for _, r := range reqs {
		b.AddTarget(value.NewRequirement(r.ValueName, ref, r.Constraints))
	}
	return nil
}

// securityType returns the type of a position's security, resolving linked
// securities. An unresolvable security has no type.
func securityType(ctx context.Context, cc *CompilationContext, pos *position.Position) (string, error) {
	if pos.Security != nil {
		return pos.Security.SecurityType, nil
	}
	tgt, err := cc.Resolver.Resolve(ctx, pos.SecurityReference(), cc.VersionCorrection)
	switch {
	case target.IsNotFound(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("resolving security of position %s: %w", pos.UniqueID, err)
	}
	if sec, ok := tgt.Value.(*position.Security); ok {
		return sec.SecurityType, nil
	}
	return "", nil
}

// aggregateRequirements asks for every configured value on a node, once
// per distinct value name and constraint set.
func aggregateRequirements(config *view.CalculationConfiguration, node *position.Node) []value.Requirement {
	type key struct {
		name        string
		constraints value.Properties
	}
	seen := make(map[key]struct{})
	ref := target.NewReference(target.TypePortfolioNode, node.UniqueID)
	var reqs []value.Requirement
	for _, r := range config.PortfolioRequirements {
		k := key{r.ValueName, r.Constraints}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		reqs = append(reqs, value.NewRequirement(r.ValueName, ref, r.Constraints))
	}
	return reqs
}

func sortedObjectIDs(s sets.Set[id.ObjectID]) []id.ObjectID {
	out := s.UnsortedList()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
