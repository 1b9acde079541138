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

// Package fixture provides an in-memory target resolver, a sample
// portfolio and a small function catalog for tests.
package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/target"
)

// Resolver is a target.Resolver over registered targets. Unversioned
// references resolve to the latest registered version.
type Resolver struct {
	mu      sync.RWMutex
	targets map[target.Reference]*target.Target
	errs    map[target.Reference]error
	calls   map[target.Type]int
	gate    chan struct{}
}

var _ target.Resolver = &Resolver{}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		targets: make(map[target.Reference]*target.Target),
		errs:    make(map[target.Reference]error),
		calls:   make(map[target.Type]int),
	}
}

// Add registers a target under its unique id, its unversioned id and any
// aliases.
func (r *Resolver) Add(t *target.Target, aliases ...target.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := t.UniqueID()
	r.targets[target.NewReference(t.Type(), uid)] = t
	r.targets[target.NewReference(t.Type(), uid.ObjectID().AtVersion(""))] = t
	for _, a := range aliases {
		r.targets[a] = t
	}
}

// AddPortfolio registers a portfolio with its nodes, positions and
// attached securities.
func (r *Resolver) AddPortfolio(p *position.Portfolio) {
	r.Add(&target.Target{Specification: target.Specification{Type: target.TypePortfolio, UniqueID: p.UniqueID}, Name: p.Name, Value: p})
	for _, n := range p.Nodes() {
		r.Add(&target.Target{Specification: target.Specification{Type: target.TypePortfolioNode, UniqueID: n.UniqueID}, Name: n.Name, Value: n})
	}
	for _, pos := range p.Positions() {
		r.AddPosition(pos)
	}
}

// AddPosition registers a position and its attached security. Registering
// a new version makes it the latest.
func (r *Resolver) AddPosition(pos *position.Position) {
	r.Add(&target.Target{Specification: target.Specification{Type: target.TypePosition, UniqueID: pos.UniqueID}, Value: pos})
	if sec := pos.Security; sec != nil {
		var aliases []target.Reference
		if !sec.ExternalID.IsZero() {
			aliases = append(aliases, target.NewExternalReference(target.TypeSecurity, sec.ExternalID))
		}
		r.Add(&target.Target{
			Specification: target.Specification{Type: target.TypeSecurity, UniqueID: sec.UniqueID},
			Name:          sec.Name,
			Value:         sec,
			Attributes:    sec.Attributes,
		}, aliases...)
	}
}

// Fail makes resolving ref return err.
func (r *Resolver) Fail(ref target.Reference, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[ref] = err
}

// Block makes every resolution wait until the returned function is called
// or the context ends.
func (r *Resolver) Block() (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many resolutions of the given type were attempted.
func (r *Resolver) Calls(t target.Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[t]
}

// Resolve implements target.Resolver.
func (r *Resolver) Resolve(ctx context.Context, ref target.Reference, vc id.VersionCorrection) (*target.Target, error) {
	r.mu.Lock()
	r.calls[ref.Type]++
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err, ok := r.errs[ref]; ok {
		return nil, err
	}
	if t, ok := r.targets[ref]; ok {
		return t, nil
	}
	return nil, target.NotFound(ref, vc)
}

// ResolveSpecification implements target.Resolver.
func (r *Resolver) ResolveSpecification(ctx context.Context, ref target.Reference, vc id.VersionCorrection) (target.Specification, error) {
	t, err := r.Resolve(ctx, ref, vc)
	if err != nil {
		return target.Specification{}, err
	}
	return t.Specification, nil
}

// Equity returns a position of qty in an equity identified by ticker.
func Equity(posID, ticker string, version string, qty float64) *position.Position {
	return &position.Position{
		UniqueID: id.UniqueID{Scheme: "Pos", Value: posID, Version: version},
		Quantity: qty,
		Security: &position.Security{
			UniqueID:     id.Of("Sec", ticker),
			ExternalID:   id.External("Ticker", ticker),
			Name:         ticker,
			SecurityType: "EQUITY",
		},
	}
}

// Portfolio returns "Port~1": a root node holding positions A and B and a
// child node holding position C.
func Portfolio() *position.Portfolio {
	return &position.Portfolio{
		UniqueID: id.UniqueID{Scheme: "Port", Value: "1", Version: "1"},
		Name:     "Test portfolio",
		Root: &position.Node{
			UniqueID:  id.Of("Node", "root"),
			Name:      "root",
			Positions: []*position.Position{Equity("A", "AAA", "1", 10), Equity("B", "BBB", "1", 20)},
			Children: []*position.Node{{
				UniqueID:  id.Of("Node", "child"),
				Name:      "child",
				Positions: []*position.Position{Equity("C", "CCC", "1", 30)},
			}},
		},
	}
}

// PositionRef returns the unversioned reference to a fixture position.
func PositionRef(posID string) target.Reference {
	return target.NewReference(target.TypePosition, id.Of("Pos", posID))
}

// ReplacePosition swaps the position with the same object id for next,
// both in the portfolio tree and in the resolver.
func (r *Resolver) ReplacePosition(p *position.Portfolio, next *position.Position) error {
	replaced := false
	p.Root.Walk(func(n *position.Node) bool {
		for i, pos := range n.Positions {
			if pos.UniqueID.ObjectID() == next.UniqueID.ObjectID() {
				n.Positions[i] = next
				replaced = true
			}
		}
		return true
	})
	if !replaced {
		return fmt.Errorf("position %s not in portfolio", next.UniqueID.ObjectID())
	}
	r.AddPosition(next)
	return nil
}
