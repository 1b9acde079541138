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

package generator

import (
	"fmt"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
	"github.com/joequant/OG-Platform/pkg/view"
)

// PortfolioOption is a functional option for Portfolio
type PortfolioOption func(*position.Portfolio)

// NodeOption is a functional option for a portfolio Node
type NodeOption func(*position.Node)

// NewPortfolio creates a portfolio with an empty root node and applies the
// given options to it
func NewPortfolio(name string, opts ...PortfolioOption) *position.Portfolio {
	p := &position.Portfolio{
		UniqueID: id.UniqueID{Scheme: "Port", Value: name, Version: "1"},
		Name:     name,
		Root:     &position.Node{UniqueID: id.Of("Node", name+"/root"), Name: "root"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithRoot applies node options to the root node
func WithRoot(opts ...NodeOption) PortfolioOption {
	return func(p *position.Portfolio) {
		for _, opt := range opts {
			opt(p.Root)
		}
	}
}

// WithChild adds a child node and applies node options to it
func WithChild(name string, opts ...NodeOption) NodeOption {
	return func(n *position.Node) {
		child := &position.Node{UniqueID: id.Of("Node", n.UniqueID.Value+"/"+name), Name: name}
		for _, opt := range opts {
			opt(child)
		}
		n.Children = append(n.Children, child)
	}
}

// WithEquities adds count equity positions, each in its own security
func WithEquities(prefix string, count int) NodeOption {
	return WithPositions(prefix, count, "EQUITY")
}

// WithPositions adds count positions in securities of the given type
func WithPositions(prefix string, count int, securityType string) NodeOption {
	return func(n *position.Node) {
		for i := 0; i < count; i++ {
			name := fmt.Sprintf("%s-%d", prefix, i)
			n.Positions = append(n.Positions, &position.Position{
				UniqueID: id.UniqueID{Scheme: "Pos", Value: name, Version: "1"},
				Quantity: float64(i + 1),
				Security: &position.Security{
					UniqueID:     id.Of("Sec", name),
					ExternalID:   id.External("Ticker", name),
					Name:         name,
					SecurityType: securityType,
				},
			})
		}
	}
}

// Balanced returns a portfolio of depth levels where every node has fanout
// children and every leaf holds perLeaf equity positions
func Balanced(name string, depth, fanout, perLeaf int) *position.Portfolio {
	var level func(prefix string, d int) NodeOption
	level = func(prefix string, d int) NodeOption {
		return func(n *position.Node) {
			if d == 0 {
				WithEquities(prefix, perLeaf)(n)
				return
			}
			for i := 0; i < fanout; i++ {
				child := fmt.Sprintf("%s.%d", prefix, i)
				WithChild(child, level(child, d-1))(n)
			}
		}
	}
	return NewPortfolio(name, WithRoot(level(name, depth)))
}

// ViewOption is a functional option for ViewDefinition
type ViewOption func(*view.ViewDefinition)

// ConfigurationOption is a functional option for CalculationConfiguration
type ConfigurationOption func(*view.CalculationConfiguration)

// NewViewDefinition creates a view definition with the given name and
// options. Portfolio outputs are disabled until WithPortfolio is applied.
func NewViewDefinition(name string, opts ...ViewOption) *view.ViewDefinition {
	def := &view.ViewDefinition{
		UniqueID: id.Of("View", name),
		Name:     name,
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

// WithPortfolio references a portfolio and enables position and aggregate
// outputs
func WithPortfolio(portfolio id.UniqueID) ViewOption {
	return func(def *view.ViewDefinition) {
		def.Portfolio = target.NewReference(target.TypePortfolio, portfolio.ObjectID().AtVersion(""))
		def.ResultModel = view.ResultModelDefinition{
			PositionOutputMode:          view.OutputModeAll,
			AggregatePositionOutputMode: view.OutputModeAll,
		}
	}
}

// WithResultModel overrides the result model
func WithResultModel(rm view.ResultModelDefinition) ViewOption {
	return func(def *view.ViewDefinition) { def.ResultModel = rm }
}

// WithCalculationConfiguration adds a calculation configuration
func WithCalculationConfiguration(name string, opts ...ConfigurationOption) ViewOption {
	return func(def *view.ViewDefinition) {
		config := &view.CalculationConfiguration{Name: name}
		for _, opt := range opts {
			opt(config)
		}
		def.CalculationConfigurations = append(def.CalculationConfigurations, config)
	}
}

// WithPortfolioRequirement asks for a value on every position of a
// security type and on every node
func WithPortfolioRequirement(securityType, valueName string, constraints value.Properties) ConfigurationOption {
	return func(c *view.CalculationConfiguration) {
		c.PortfolioRequirements = append(c.PortfolioRequirements, view.PortfolioRequirement{
			SecurityType: securityType,
			ValueName:    valueName,
			Constraints:  constraints,
		})
	}
}

// WithSpecificRequirement asks for a value on one target
func WithSpecificRequirement(valueName string, ref target.Reference, constraints value.Properties) ConfigurationOption {
	return func(c *view.CalculationConfiguration) {
		c.SpecificRequirements = append(c.SpecificRequirements, value.NewRequirement(valueName, ref, constraints))
	}
}
