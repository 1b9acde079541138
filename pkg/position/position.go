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

// Package position holds the portfolio domain objects attached to resolved
// computation targets.
package position

import (
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
)

// Security is a tradable instrument.
type Security struct {
	UniqueID     id.UniqueID
	ExternalID   id.ExternalID
	Name         string
	SecurityType string
	Attributes   map[string]string
}

// Position is a quantity held in one security. The security is either
// attached directly or linked by external id.
type Position struct {
	UniqueID     id.UniqueID
	Quantity     float64
	Security     *Security
	SecurityLink id.ExternalID
}

// SecurityReference returns the reference used to resolve the position's
// security.
func (p *Position) SecurityReference() target.Reference {
	if p.Security != nil && !p.Security.UniqueID.IsZero() {
		return target.NewReference(target.TypeSecurity, p.Security.UniqueID)
	}
	if p.Security != nil && !p.Security.ExternalID.IsZero() {
		return target.NewExternalReference(target.TypeSecurity, p.Security.ExternalID)
	}
	return target.NewExternalReference(target.TypeSecurity, p.SecurityLink)
}

// SecurityType returns the attached security's type, or "" when the
// security is only linked.
func (p *Position) SecurityType() string {
	if p.Security == nil {
		return ""
	}
	return p.Security.SecurityType
}

// Node is a node of the portfolio tree.
type Node struct {
	UniqueID  id.UniqueID
	Name      string
	Children  []*Node
	Positions []*Position
}

// Walk visits n and every descendant node depth first, parents before
// children. Returning false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Portfolio is a named tree of positions.
type Portfolio struct {
	UniqueID id.UniqueID
	Name     string
	Root     *Node
}

// Nodes returns every node in walk order.
func (p *Portfolio) Nodes() []*Node {
	var out []*Node
	p.Root.Walk(func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Positions returns every position in walk order. A position held under
// several nodes is returned once.
func (p *Portfolio) Positions() []*Position {
	seen := make(map[id.UniqueID]struct{})
	var out []*Position
	p.Root.Walk(func(n *Node) bool {
		for _, pos := range n.Positions {
			if _, ok := seen[pos.UniqueID]; ok {
				continue
			}
			seen[pos.UniqueID] = struct{}{}
			out = append(out, pos)
		}
		return true
	})
	return out
}

// FindPosition returns the position with the given object id, ignoring
// versions.
func (p *Portfolio) FindPosition(oid id.ObjectID) (*Position, bool) {
	var found *Position
	p.Root.Walk(func(n *Node) bool {
		for _, pos := range n.Positions {
			if pos.UniqueID.ObjectID() == oid {
				found = pos
				return false
			}
		}
		return true
	})
	return found, found != nil
}
