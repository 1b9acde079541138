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

package fixture

import (
	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Value names produced by the fixture catalog.
const (
	PresentValue = "PresentValue"
	MarketPrice  = "MarketPrice"
	Price        = "Price"
	Delta        = "Delta"
)

// Functions returns a small catalog:
//
//	PV          POSITION        PresentValue <- MarketPrice(self)
//	MarketPrice POSITION        MarketPrice  (market data)
//	Delta       POSITION        Delta        <- Price(security), equities only
//	SecPrice    SECURITY        Price        (market data)
//	SumPV       PORTFOLIO_NODE  PresentValue <- PresentValue(children)
func Functions() []*function.Definition {
	return []*function.Definition{
		{
			ID: "PV", Kind: function.KindCompute, TargetType: target.TypePosition,
			Outputs: []function.Output{{ValueName: PresentValue, Properties: value.Props("Currency", "")}},
			Inputs:  []function.InputTemplate{{ValueName: MarketPrice, Target: function.InputSelf}},
		},
		{
			ID: "MarketPrice", Kind: function.KindMarketData, TargetType: target.TypePosition,
			Outputs: []function.Output{{ValueName: MarketPrice}},
		},
		{
			ID: "Delta", Kind: function.KindCompute, TargetType: target.TypePosition,
			Outputs:        []function.Output{{ValueName: Delta}},
			Inputs:         []function.InputTemplate{{ValueName: Price, Target: function.InputSecurity}},
			ApplicableWhen: `target.securityType == "EQUITY"`,
		},
		{
			ID: "SecPrice", Kind: function.KindMarketData, TargetType: target.TypeSecurity,
			Outputs: []function.Output{{ValueName: Price}},
		},
		{
			ID: "SumPV", Kind: function.KindCompute, TargetType: target.TypePortfolioNode,
			Outputs: []function.Output{{ValueName: PresentValue, Properties: value.Props("Currency", "")}},
			Inputs: []function.InputTemplate{{
				ValueName: PresentValue, Target: function.InputChildren, PassThrough: []string{"Currency"},
			}},
		},
	}
}

// Repository returns an in-memory repository over Functions.
func Repository() (*function.InMemoryRepository, error) {
	return function.NewInMemoryRepository(Functions()...)
}
