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
	"encoding/json"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
)

func TestPropertiesInterning(t *testing.T) {
	a := Props("Currency", "USD", "Method", "")
	b := NewProperties(map[string][]string{"Method": nil, "Currency": {"USD", "USD"}})
	assert.True(t, a == b)
	assert.Equal(t, "{Currency=[USD],Method=*}", a.String())
	assert.True(t, Properties{} == NewProperties(nil))
	assert.True(t, Props().IsEmpty())

	m := map[Properties]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestPropertiesInternTableShrinks(t *testing.T) {
	kept := Props("Curve", "kept")
	base := internedLen()
	for i := 0; i < 1000; i++ {
		_ = Props("Curve", fmt.Sprintf("curve-%d", i))
	}
	require.GreaterOrEqual(t, internedLen(), base)

	require.Eventually(t, func() bool {
		runtime.GC()
		return internedLen() <= base
	}, 5*time.Second, 10*time.Millisecond)

	// Sets still in use stay interned.
	assert.True(t, kept == Props("Curve", "kept"))
	runtime.KeepAlive(kept)
}

func TestPropertiesIsSatisfiedBy(t *testing.T) {
	tests := []struct {
		name        string
		constraints Properties
		output      Properties
		want        bool
		exact       int
	}{
		{name: "no constraints", constraints: Props(), output: Props("Currency", "USD"), want: true},
		{name: "explicit match", constraints: Props("Currency", "USD"), output: Props("Currency", "USD"), want: true, exact: 1},
		{name: "wildcard output", constraints: Props("Currency", "USD"), output: Props("Currency", ""), want: true},
		{name: "wildcard constraint", constraints: Props("Currency", ""), output: Props("Currency", "EUR"), want: true},
		{name: "value mismatch", constraints: Props("Currency", "USD"), output: Props("Currency", "EUR"), want: false},
		{name: "missing property", constraints: Props("Currency", "USD"), output: Props(), want: false},
		{name: "any of several", constraints: Props("Currency", "USD", "Currency", "GBP"), output: Props("Currency", "GBP"), want: true, exact: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.constraints.IsSatisfiedBy(tt.output))
			assert.Equal(t, tt.exact, tt.constraints.ExactMatches(tt.output))
		})
	}
}

func TestPropertiesCompose(t *testing.T) {
	output := Props("Currency", "", "Method", "MC")
	got := output.Compose(Props("Currency", "USD"))
	assert.Equal(t, Props("Currency", "USD", "Method", "MC"), got)

	narrowed := Props("Currency", "USD", "Currency", "EUR").Compose(Props("Currency", "EUR"))
	assert.Equal(t, Props("Currency", "EUR"), narrowed)

	assert.Equal(t, output, output.Compose(Props()))
}

func TestPropertiesWithAndJSON(t *testing.T) {
	p := Props("Currency", "USD").With("Method")
	vs, ok := p.Values("Method")
	require.True(t, ok)
	assert.Empty(t, vs)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Currency":["USD"],"Method":[]}`, string(raw))
}

func TestSpecificationSatisfies(t *testing.T) {
	spec := target.Specification{Type: target.TypePosition, UniqueID: id.Of("Pos", "A")}
	s := Specification{ValueName: "PresentValue", Target: spec, FunctionID: "PV", Properties: Props("Currency", "USD")}

	assert.True(t, s.Satisfies(NewRequirement("PresentValue", spec.Reference(), Props("Currency", ""))))
	assert.False(t, s.Satisfies(NewRequirement("PresentValue", spec.Reference(), Props("Currency", "EUR"))))
	assert.False(t, s.Satisfies(NewRequirement("Delta", spec.Reference(), Props())))
}
