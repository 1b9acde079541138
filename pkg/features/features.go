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

package features

import (
	"k8s.io/component-base/featuregate"
)

const (
	// CompilationProgressLogging starts the progress watcher for every
	// compilation and logs completion estimates, even when no progress
	// observer is registered.
	CompilationProgressLogging featuregate.Feature = "CompilationProgressLogging"

	// CompilationDiagnostics dumps each compiled graph, its market data
	// requirements and its failure report to the log after every pass.
	CompilationDiagnostics featuregate.Feature = "CompilationDiagnostics"

	// RetainPortfolioNodeResolutions keeps portfolio node resolutions when
	// pruning the resolution map, alongside position resolutions.
	RetainPortfolioNodeResolutions featuregate.Feature = "RetainPortfolioNodeResolutions"
)

// defaultFeatureGates consists of all known compiler feature keys.
// To add a new feature, define a Feature constant above and add it here with
// its default state and maturity stage (Alpha, Beta, or GA).
var defaultFeatureGates = map[featuregate.Feature]featuregate.FeatureSpec{
	CompilationProgressLogging:     {Default: false, PreRelease: featuregate.Alpha},
	CompilationDiagnostics:         {Default: false, PreRelease: featuregate.Alpha},
	RetainPortfolioNodeResolutions: {Default: false, PreRelease: featuregate.Alpha},
}

// FeatureGate is the shared global MutableFeatureGate. It is populated at
// init time; embedding binaries may expose it through a --feature-gates
// flag.
var FeatureGate featuregate.MutableFeatureGate = featuregate.NewFeatureGate()

func init() {
	if err := FeatureGate.Add(defaultFeatureGates); err != nil {
		panic(err)
	}
}
