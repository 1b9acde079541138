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

// Package depgraph builds dependency graphs of function invocations for one
// calculation configuration. A Builder turns value requirements into
// nodes; a Graph is the immutable result.
package depgraph

import (
	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Node is one function invocation. It is identified by its output
// specification, which already names the function and the target.
type Node struct {
	Function *function.Definition
	Target   target.Specification
	Inputs   []value.Specification
	Output   value.Specification
}

// IsMarketData reports whether the node sources external data.
func (n *Node) IsMarketData() bool {
	return n.Function != nil && n.Function.Kind == function.KindMarketData
}

// FunctionID returns the id of the invoked function.
func (n *Node) FunctionID() string { return n.Output.FunctionID }

func (n *Node) String() string { return n.Output.String() }
