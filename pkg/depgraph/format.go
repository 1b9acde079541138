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

package depgraph

import (
	"fmt"
	"io"
	"strings"

	"github.com/rodaine/table"
	"sigs.k8s.io/yaml"
)

type nodeDump struct {
	Function string   `json:"function"`
	Target   string   `json:"target"`
	Output   string   `json:"output"`
	Inputs   []string `json:"inputs,omitempty"`
}

type graphDump struct {
	Configuration   string     `json:"configuration"`
	Nodes           []nodeDump `json:"nodes"`
	TerminalOutputs []string   `json:"terminalOutputs"`
}

// FormatYAML renders the graph for diagnostics.
func FormatYAML(g *Graph) ([]byte, error) {
	dump := graphDump{Configuration: g.config, Nodes: make([]nodeDump, 0, len(g.nodes))}
	for _, n := range g.nodes {
		nd := nodeDump{Function: n.FunctionID(), Target: n.Target.String(), Output: n.Output.String()}
		for _, in := range n.Inputs {
			nd.Inputs = append(nd.Inputs, in.String())
		}
		dump.Nodes = append(dump.Nodes, nd)
	}
	for _, spec := range g.TerminalOutputSpecifications() {
		dump.TerminalOutputs = append(dump.TerminalOutputs, spec.String())
	}
	out, err := yaml.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("formatting graph %q: %w", g.config, err)
	}
	return out, nil
}

// WriteNodeTable prints one row per node.
func WriteNodeTable(w io.Writer, g *Graph) {
	tbl := table.New("Function", "Target", "Value", "Inputs").WithWriter(w)
	for _, n := range g.nodes {
		tbl.AddRow(n.FunctionID(), n.Target.String(), n.Output.ValueName, len(n.Inputs))
	}
	tbl.Print()
}

// WriteFailureTable prints one row per distinct failure.
func WriteFailureTable(w io.Writer, failures []Failure) {
	tbl := table.New("Count", "Failure", "First requirement").WithWriter(w)
	for _, f := range failures {
		tbl.AddRow(f.Count, strings.TrimSpace(f.Message), f.Requirement.String())
	}
	tbl.Print()
}
