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

package value

import (
	"fmt"

	"github.com/joequant/OG-Platform/pkg/target"
)

// Requirement describes a desired output: a value name over a target,
// narrowed by constraints. Requirements are comparable.
type Requirement struct {
	ValueName   string
	Target      target.Reference
	Constraints Properties
}

// NewRequirement builds a requirement.
func NewRequirement(valueName string, ref target.Reference, constraints Properties) Requirement {
	return Requirement{ValueName: valueName, Target: ref, Constraints: constraints}
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s@%s%s", r.ValueName, r.Target, r.Constraints)
}

// Specification is a concrete output produced by one function applied to one
// resolved target. It identifies the output of a dependency node.
type Specification struct {
	ValueName  string
	Target     target.Specification
	FunctionID string
	Properties Properties
}

func (s Specification) String() string {
	return fmt.Sprintf("%s@%s by %s%s", s.ValueName, s.Target, s.FunctionID, s.Properties)
}

// Satisfies reports whether the specification can stand in for a
// requirement whose target resolved to the same specification.
func (s Specification) Satisfies(r Requirement) bool {
	return s.ValueName == r.ValueName && r.Constraints.IsSatisfiedBy(s.Properties)
}
