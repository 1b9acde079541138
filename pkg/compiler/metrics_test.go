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
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
)

func TestCompilationMetrics(t *testing.T) {
	success := Metrics.compilations.WithLabelValues(string(KindFull), "success")
	failed := Metrics.compilations.WithLabelValues(string(KindFull), "error")
	beforeSuccess := testutil.ToFloat64(success)
	beforeFailed := testutil.ToFloat64(failed)
	beforeUnsatisfied := testutil.ToFloat64(Metrics.unsatisfied.WithLabelValues(string(KindFull)))

	env := newTestEnv(t)
	_, err := env.compiler.Compile(context.Background(), specificView(pvOn("A"), pvOn("missing")), valuationTime, id.Latest)
	require.NoError(t, err)
	assert.Equal(t, beforeSuccess+1, testutil.ToFloat64(success))
	assert.Equal(t, beforeUnsatisfied+1, testutil.ToFloat64(Metrics.unsatisfied.WithLabelValues(string(KindFull))))
	// The unversioned and versioned references to position A.
	assert.Equal(t, 2.0, testutil.ToFloat64(Metrics.retainedResolutions))

	_, err = env.compiler.Compile(context.Background(), portfolioView(id.Of("Port", "nope")), valuationTime, id.Latest)
	require.Error(t, err)
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
	assert.Equal(t, 0, env.resolver.Calls(target.TypeSecurity))
}

func TestMetricsRegisterOnCustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newCompilerMetrics()
	m.MustRegister(registry)
	m.ObserveCompilation(KindIncrementalPartial, 0.5, nil)
	m.ObserveCompilation(KindIncrementalPartial, 0.1, ErrCancelled)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilations.WithLabelValues(string(KindIncrementalPartial), "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilations.WithLabelValues(string(KindIncrementalPartial), "cancelled")))
	count, err := testutil.GatherAndCount(registry, "og_view_compiler_compilation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
