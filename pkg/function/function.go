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

// Package function describes the functions a dependency graph is built
// from. Functions are closed, tagged descriptors: the outputs they produce,
// the inputs they need and an optional applicability predicate. The graph
// builder asks a Repository for a ranked list of candidates per
// requirement.
package function

import (
	"errors"
	"fmt"

	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Kind distinguishes computing functions from leaf functions that source
// external data.
type Kind string

const (
	// KindCompute functions derive outputs from inputs.
	KindCompute Kind = "Compute"
	// KindMarketData functions have no inputs; their outputs are market data
	// requirements the execution engine must source.
	KindMarketData Kind = "MarketData"
)

// InputTarget selects the target an input requirement is placed on,
// relative to the function's own target.
type InputTarget string

const (
	// InputSelf places the input on the function's own target.
	InputSelf InputTarget = "Self"
	// InputSecurity places the input on the security of a position target.
	InputSecurity InputTarget = "Security"
	// InputChildren places one input on every child node and position of a
	// portfolio node target, or on the root node of a portfolio target.
	InputChildren InputTarget = "Children"
)

// Output is one value a function can produce.
type Output struct {
	ValueName  string
	Properties value.Properties
}

// InputTemplate generates input requirements for a function invocation.
type InputTemplate struct {
	ValueName   string
	Target      InputTarget
	Constraints value.Properties
	// PassThrough lists output property names whose resolved values are
	// copied onto the input's constraints.
	PassThrough []string
}

// Definition is a function descriptor.
type Definition struct {
	ID         string
	Kind       Kind
	TargetType target.Type
	Outputs    []Output
	Inputs     []InputTemplate
	// ApplicableWhen is an optional CEL expression over the variable
	// "target" that must evaluate to true for the function to apply.
	ApplicableWhen string
}

// Validate checks the descriptor's structure. Predicates are checked when
// the definition is loaded into a repository.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("function id is empty"))
	}
	switch d.Kind {
	case KindCompute, KindMarketData:
	default:
		errs = append(errs, fmt.Errorf("function %q: unknown kind %q", d.ID, d.Kind))
	}
	if d.TargetType == "" {
		errs = append(errs, fmt.Errorf("function %q: target type is empty", d.ID))
	}
	if len(d.Outputs) == 0 {
		errs = append(errs, fmt.Errorf("function %q: no outputs", d.ID))
	}
	for _, o := range d.Outputs {
		if o.ValueName == "" {
			errs = append(errs, fmt.Errorf("function %q: output with empty value name", d.ID))
		}
	}
	if d.Kind == KindMarketData && len(d.Inputs) > 0 {
		errs = append(errs, fmt.Errorf("function %q: market data functions take no inputs", d.ID))
	}
	for _, in := range d.Inputs {
		if in.ValueName == "" {
			errs = append(errs, fmt.Errorf("function %q: input with empty value name", d.ID))
		}
		switch in.Target {
		case InputSelf, InputSecurity, InputChildren:
		default:
			errs = append(errs, fmt.Errorf("function %q: input %q has unknown target %q", d.ID, in.ValueName, in.Target))
		}
	}
	return errors.Join(errs...)
}

// Candidate is one way to satisfy a requirement: a function, the concrete
// output it would produce, and the inputs it would need.
type Candidate struct {
	Function     *Definition
	Output       value.Specification
	Inputs       []value.Requirement
	ExactMatches int
}

// InputRequirements returns the requirements that must be satisfied before
// the candidate can execute.
func (c Candidate) InputRequirements() []value.Requirement { return c.Inputs }
