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

package function

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/target"
)

// targetVariable is the CEL variable exposing the candidate target.
const targetVariable = "target"

// newPredicateEnv returns the CEL environment applicability predicates are
// compiled in. The target is a map with the keys type, scheme, value,
// version, name, securityType and attributes.
func newPredicateEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(targetVariable, cel.MapType(cel.StringType, cel.DynType)),
	)
}

// compilePredicate parses and type-checks an applicability expression and
// verifies it returns bool.
func compilePredicate(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(types.BoolType) {
		return nil, fmt.Errorf("expression %q must return bool, but returns %q", expr, ast.OutputType().String())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return prg, nil
}

// evalPredicate reports whether prg holds for tgt. Evaluation errors, such
// as a missing attribute key, count as "not applicable".
func evalPredicate(prg cel.Program, tgt *target.Target) bool {
	out, _, err := prg.Eval(map[string]any{targetVariable: activation(tgt)})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func activation(tgt *target.Target) map[string]any {
	attrs := make(map[string]any, len(tgt.Attributes))
	for k, v := range tgt.Attributes {
		attrs[k] = v
	}
	uid := tgt.UniqueID()
	return map[string]any{
		"type":         string(tgt.Type()),
		"scheme":       uid.Scheme,
		"value":        uid.Value,
		"version":      uid.Version,
		"name":         tgt.Name,
		"securityType": securityType(tgt),
		"attributes":   attrs,
	}
}

func securityType(tgt *target.Target) string {
	switch v := tgt.Value.(type) {
	case *position.Position:
		return v.SecurityType()
	case *position.Security:
		return v.SecurityType
	}
	return ""
}
