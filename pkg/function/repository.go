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

package function

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Repository answers which functions can satisfy a requirement on a
// resolved target. Implementations must be safe for concurrent use and
// must not change the answers for a given generation.
type Repository interface {
	// FindApplicable returns candidates ordered best first.
	FindApplicable(ctx context.Context, req value.Requirement, tgt *target.Target) ([]Candidate, error)
	// Generation identifies the repository contents.
	Generation() string
}

type entry struct {
	def       *Definition
	predicate cel.Program
}

type catalog struct {
	generation string
	entries    []entry
}

// InMemoryRepository is a Repository over a fixed list of definitions.
// Reload swaps the list atomically; lookups already in flight keep using
// the list they started with.
type InMemoryRepository struct {
	env     *cel.Env
	current atomic.Pointer[catalog]
}

var _ Repository = &InMemoryRepository{}

// NewInMemoryRepository creates a repository holding defs, in registration
// order.
func NewInMemoryRepository(defs ...*Definition) (*InMemoryRepository, error) {
	env, err := newPredicateEnv()
	if err != nil {
		return nil, fmt.Errorf("creating predicate environment: %w", err)
	}
	r := &InMemoryRepository{env: env}
	if err := r.Reload(defs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload validates defs, compiles their predicates and replaces the
// repository contents under a new generation. On error the contents are
// left unchanged.
func (r *InMemoryRepository) Reload(defs ...*Definition) error {
	seen := make(map[string]struct{}, len(defs))
	entries := make([]entry, 0, len(defs))
	var errs []error
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate function id %q", d.ID))
			continue
		}
		seen[d.ID] = struct{}{}
		e := entry{def: d}
		if d.ApplicableWhen != "" {
			prg, err := compilePredicate(r.env, d.ApplicableWhen)
			if err != nil {
				errs = append(errs, fmt.Errorf("function %q: %w", d.ID, err))
				continue
			}
			e.predicate = prg
		}
		entries = append(entries, e)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.current.Store(&catalog{generation: uuid.NewString(), entries: entries})
	return nil
}

// Generation implements Repository.
func (r *InMemoryRepository) Generation() string { return r.current.Load().generation }

// Functions returns the loaded definitions in registration order.
func (r *InMemoryRepository) Functions() []*Definition {
	c := r.current.Load()
	out := make([]*Definition, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.def
	}
	return out
}

// FindApplicable implements Repository. Candidates are ranked by the number
// of constraints met exactly (more first), then by the number of inputs
// (fewer first), then by registration order.
func (r *InMemoryRepository) FindApplicable(ctx context.Context, req value.Requirement, tgt *target.Target) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := r.current.Load()
	var candidates []Candidate
	for _, e := range c.entries {
		if e.def.TargetType != tgt.Type() {
			continue
		}
		for _, out := range e.def.Outputs {
			if out.ValueName != req.ValueName || !req.Constraints.IsSatisfiedBy(out.Properties) {
				continue
			}
			if e.predicate != nil && !evalPredicate(e.predicate, tgt) {
				break
			}
			props := out.Properties.Compose(req.Constraints)
			inputs, ok := expandInputs(e.def.Inputs, tgt, props)
			if !ok {
				break
			}
			candidates = append(candidates, Candidate{
				Function: e.def,
				Output: value.Specification{
					ValueName:  out.ValueName,
					Target:     tgt.Specification,
					FunctionID: e.def.ID,
					Properties: props,
				},
				Inputs:       inputs,
				ExactMatches: req.Constraints.ExactMatches(out.Properties),
			})
			break
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ExactMatches != candidates[j].ExactMatches {
			return candidates[i].ExactMatches > candidates[j].ExactMatches
		}
		return len(candidates[i].Inputs) < len(candidates[j].Inputs)
	})
	return candidates, nil
}

// expandInputs instantiates input templates against a target. It reports
// false when a template cannot be placed, e.g. a security input on a target
// without a security.
func expandInputs(templates []InputTemplate, tgt *target.Target, resolved value.Properties) ([]value.Requirement, bool) {
	var inputs []value.Requirement
	for _, tmpl := range templates {
		constraints := tmpl.Constraints
		for _, name := range tmpl.PassThrough {
			if vs, ok := resolved.Values(name); ok && len(vs) > 0 {
				constraints = constraints.With(name, vs...)
			}
		}
		refs, ok := inputTargets(tmpl.Target, tgt)
		if !ok {
			return nil, false
		}
		for _, ref := range refs {
			inputs = append(inputs, value.NewRequirement(tmpl.ValueName, ref, constraints))
		}
	}
	return inputs, true
}

func inputTargets(sel InputTarget, tgt *target.Target) ([]target.Reference, bool) {
	switch sel {
	case InputSelf:
		return []target.Reference{tgt.Specification.Reference()}, true
	case InputSecurity:
		pos, ok := tgt.Value.(*position.Position)
		if !ok {
			return nil, false
		}
		return []target.Reference{pos.SecurityReference()}, true
	case InputChildren:
		switch v := tgt.Value.(type) {
		case *position.Portfolio:
			if v.Root == nil {
				return nil, true
			}
			return []target.Reference{target.NewReference(target.TypePortfolioNode, v.Root.UniqueID)}, true
		case *position.Node:
			refs := make([]target.Reference, 0, len(v.Children)+len(v.Positions))
			for _, child := range v.Children {
				refs = append(refs, target.NewReference(target.TypePortfolioNode, child.UniqueID))
			}
			for _, pos := range v.Positions {
				refs = append(refs, target.NewReference(target.TypePosition, pos.UniqueID))
			}
			return refs, true
		}
	}
	return nil, false
}
