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

package compiler

import (
	"bytes"

	"github.com/joequant/OG-Platform/pkg/depgraph"
)

// dumpDiagnostics logs every compiled graph as YAML and as a node table,
// together with its market data requirements and a failure report.
func (t *Task) dumpDiagnostics(compiled *CompiledViewDefinition) {
	log := t.log.WithName("diagnostics")
	for _, g := range compiled.Graphs() {
		name := g.CalculationConfigurationName()
		out, err := depgraph.FormatYAML(g)
		if err != nil {
			log.Error(err, "formatting dependency graph", "configuration", name)
		} else {
			log.Info("dependency graph", "configuration", name, "nodes", g.Size(), "graph", string(out))
		}
		var nodes bytes.Buffer
		depgraph.WriteNodeTable(&nodes, g)
		log.V(1).Info("dependency graph nodes", "configuration", name, "table", nodes.String())

		marketData := g.MarketDataRequirements()
		names := make([]string, 0, len(marketData))
		for _, spec := range marketData {
			names = append(names, spec.String())
		}
		log.Info("market data requirements", "configuration", name, "count", len(names), "requirements", names)

		failures := compiled.Failures(name)
		if len(failures) == 0 {
			log.Info("no exceptions raised for configuration", "configuration", name)
			continue
		}
		var report bytes.Buffer
		depgraph.WriteFailureTable(&report, failures)
		log.Info("failure report", "configuration", name,
			"distinct", len(failures), "total", depgraph.TotalFailures(failures),
			"report", report.String())
	}
}
