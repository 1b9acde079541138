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

// Package target describes computation targets: the portfolios, nodes,
// positions, trades, securities and primitives that functions execute
// against, and the contract used to resolve references to them.
package target

import (
	"fmt"

	"github.com/joequant/OG-Platform/pkg/id"
)

// Type is the kind of a computation target.
type Type string

const (
	TypePortfolio     Type = "PORTFOLIO"
	TypePortfolioNode Type = "PORTFOLIO_NODE"
	TypePosition      Type = "POSITION"
	TypeTrade         Type = "TRADE"
	TypeSecurity      Type = "SECURITY"
	TypePrimitive     Type = "PRIMITIVE"
)

// Reference points at a computation target. It is either resolved (it
// carries a unique id) or logical (it carries an external id that a
// Resolver maps to a unique id). References are comparable.
type Reference struct {
	Type       Type
	UniqueID   id.UniqueID
	ExternalID id.ExternalID
}

// NewReference returns a resolved reference.
func NewReference(t Type, uid id.UniqueID) Reference {
	return Reference{Type: t, UniqueID: uid}
}

// NewExternalReference returns a logical reference keyed by an external id.
func NewExternalReference(t Type, eid id.ExternalID) Reference {
	return Reference{Type: t, ExternalID: eid}
}

// IsResolved reports whether the reference already names a unique id.
func (r Reference) IsResolved() bool { return !r.UniqueID.IsZero() }

func (r Reference) String() string {
	if r.IsResolved() {
		return fmt.Sprintf("%s[%s]", r.Type, r.UniqueID)
	}
	return fmt.Sprintf("%s[ext:%s]", r.Type, r.ExternalID)
}

// Specification is a concrete, resolved target.
type Specification struct {
	Type     Type
	UniqueID id.UniqueID
}

// Reference returns the resolved reference for the specification.
func (s Specification) Reference() Reference { return NewReference(s.Type, s.UniqueID) }

func (s Specification) String() string { return fmt.Sprintf("%s[%s]", s.Type, s.UniqueID) }

// Target is a resolved computation target together with the domain object
// attached to it.
type Target struct {
	Specification Specification
	// Name is a human readable label, used in diagnostics only.
	Name string
	// Value is the attached domain object (a *position.Position,
	// *position.Security, *position.Portfolio, ...), or nil.
	Value any
	// Attributes are free-form string attributes exposed to function
	// applicability predicates.
	Attributes map[string]string
}

// Type returns the target's type.
func (t *Target) Type() Type { return t.Specification.Type }

// UniqueID returns the target's resolved id.
func (t *Target) UniqueID() id.UniqueID { return t.Specification.UniqueID }
