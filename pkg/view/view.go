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

// Package view defines view definitions: named sets of calculation
// configurations listing the values to compute over a portfolio and over
// explicit targets.
package view

import (
	"errors"
	"fmt"
	"sort"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// OutputMode selects which portfolio-level values are produced.
type OutputMode string

const (
	OutputModeNone            OutputMode = "None"
	OutputModeTerminalOutputs OutputMode = "TerminalOutputs"
	OutputModeAll             OutputMode = "All"
)

// ResultModelDefinition controls portfolio output generation.
type ResultModelDefinition struct {
	// PositionOutputMode controls outputs on positions.
	PositionOutputMode OutputMode
	// AggregatePositionOutputMode controls outputs on portfolio nodes.
	AggregatePositionOutputMode OutputMode
}

// PortfolioOutputsEnabled reports whether any portfolio-level output is
// requested.
func (r ResultModelDefinition) PortfolioOutputsEnabled() bool {
	return r.PositionOutputMode.Enabled() || r.AggregatePositionOutputMode.Enabled()
}

// Enabled reports whether the mode produces any output. The empty mode is
// treated as None.
func (m OutputMode) Enabled() bool { return m != "" && m != OutputModeNone }

// PortfolioRequirement asks for a value on every position whose security
// has the given type (or every position when SecurityType is "*"), and on
// every portfolio node aggregating them.
type PortfolioRequirement struct {
	SecurityType string
	ValueName    string
	Constraints  value.Properties
}

// AnySecurityType matches positions of every security type.
const AnySecurityType = "*"

// CalculationConfiguration is a named group of requirements compiled into
// one dependency graph.
type CalculationConfiguration struct {
	Name                  string
	PortfolioRequirements []PortfolioRequirement
	SpecificRequirements  []value.Requirement
}

// HasPortfolioRequirements reports whether the configuration asks for any
// portfolio-level value.
func (c *CalculationConfiguration) HasPortfolioRequirements() bool {
	return len(c.PortfolioRequirements) > 0
}

// PortfolioRequirementsFor returns the portfolio requirements that apply
// to a security type.
func (c *CalculationConfiguration) PortfolioRequirementsFor(securityType string) []PortfolioRequirement {
	var out []PortfolioRequirement
	for _, r := range c.PortfolioRequirements {
		if r.SecurityType == AnySecurityType || r.SecurityType == securityType {
			out = append(out, r)
		}
	}
	return out
}

// SecurityTypes returns the security types named by the portfolio
// requirements, sorted.
func (c *CalculationConfiguration) SecurityTypes() []string {
	seen := make(map[string]struct{})
	for _, r := range c.PortfolioRequirements {
		seen[r.SecurityType] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ViewDefinition is the declarative input of a compilation.
type ViewDefinition struct {
	UniqueID id.UniqueID
	Name     string
	// Portfolio is the portfolio the view runs over, or the zero reference.
	Portfolio                 target.Reference
	ResultModel               ResultModelDefinition
	CalculationConfigurations []*CalculationConfiguration
}

// HasPortfolio reports whether the view references a portfolio.
func (v *ViewDefinition) HasPortfolio() bool {
	return v.Portfolio != (target.Reference{})
}

// CalculationConfigurationNames returns the configuration names in order.
func (v *ViewDefinition) CalculationConfigurationNames() []string {
	names := make([]string, len(v.CalculationConfigurations))
	for i, c := range v.CalculationConfigurations {
		names[i] = c.Name
	}
	return names
}

// CalculationConfiguration returns the named configuration.
func (v *ViewDefinition) CalculationConfiguration(name string) (*CalculationConfiguration, bool) {
	for _, c := range v.CalculationConfigurations {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Validate checks the definition's structure. It does not resolve
// anything.
func (v *ViewDefinition) Validate() error {
	var errs []error
	if v.Name == "" {
		errs = append(errs, errors.New("view name is empty"))
	}
	if v.HasPortfolio() && v.Portfolio.Type != target.TypePortfolio {
		errs = append(errs, fmt.Errorf("view %q: portfolio reference has type %s", v.Name, v.Portfolio.Type))
	}
	seen := make(map[string]struct{}, len(v.CalculationConfigurations))
	for i, c := range v.CalculationConfigurations {
		if c == nil || c.Name == "" {
			errs = append(errs, fmt.Errorf("view %q: calculation configuration %d has no name", v.Name, i))
			continue
		}
		if _, dup := seen[c.Name]; dup {
			errs = append(errs, fmt.Errorf("view %q: duplicate calculation configuration %q", v.Name, c.Name))
		}
		seen[c.Name] = struct{}{}
		for _, r := range c.PortfolioRequirements {
			if r.ValueName == "" || r.SecurityType == "" {
				errs = append(errs, fmt.Errorf("view %q: configuration %q: portfolio requirement needs a security type and a value name", v.Name, c.Name))
			}
		}
		for _, r := range c.SpecificRequirements {
			if r.ValueName == "" {
				errs = append(errs, fmt.Errorf("view %q: configuration %q: specific requirement without value name", v.Name, c.Name))
			}
		}
	}
	return errors.Join(errs...)
}
