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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/depgraph"
	"github.com/joequant/OG-Platform/pkg/features"
	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/testutil/fixture"
	"github.com/joequant/OG-Platform/pkg/value"
	"github.com/joequant/OG-Platform/pkg/view"
)

var valuationTime = time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

type testEnv struct {
	compiler  *ViewCompiler
	resolver  *fixture.Resolver
	portfolio *position.Portfolio
	repo      *function.InMemoryRepository
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	repo, err := fixture.Repository()
	require.NoError(t, err)
	resolver := fixture.NewResolver()
	portfolio := fixture.Portfolio()
	resolver.AddPortfolio(portfolio)
	opts = append([]Option{WithLogger(testr.New(t))}, opts...)
	return &testEnv{
		compiler:  New(resolver, repo, opts...),
		resolver:  resolver,
		portfolio: portfolio,
		repo:      repo,
	}
}

func specificView(reqs ...value.Requirement) *view.ViewDefinition {
	return &view.ViewDefinition{
		UniqueID: id.Of("View", "specific"),
		Name:     "specific",
		CalculationConfigurations: []*view.CalculationConfiguration{
			{Name: "Default", SpecificRequirements: reqs},
		},
	}
}

func portfolioView(portfolio id.UniqueID) *view.ViewDefinition {
	return &view.ViewDefinition{
		UniqueID:  id.Of("View", "portfolio"),
		Name:      "portfolio",
		Portfolio: target.NewReference(target.TypePortfolio, portfolio),
		ResultModel: view.ResultModelDefinition{
			PositionOutputMode:          view.OutputModeAll,
			AggregatePositionOutputMode: view.OutputModeAll,
		},
		CalculationConfigurations: []*view.CalculationConfiguration{{
			Name: "Default",
			PortfolioRequirements: []view.PortfolioRequirement{
				{SecurityType: view.AnySecurityType, ValueName: fixture.PresentValue, Constraints: value.Props()},
			},
		}},
	}
}

func pvOn(posID string) value.Requirement {
	return value.NewRequirement(fixture.PresentValue, fixture.PositionRef(posID), value.Props())
}

func outputs(g *depgraph.Graph) []value.Specification {
	var out []value.Specification
	for _, n := range g.Nodes() {
		out = append(out, n.Output)
	}
	return out
}

func TestCompileSpecificRequirement(t *testing.T) {
	env := newTestEnv(t)
	compiled, err := env.compiler.Compile(context.Background(), specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)

	assert.Equal(t, []string{"Default"}, compiled.CalculationConfigurationNames())
	g, ok := compiled.Graph("Default")
	require.True(t, ok)
	require.Equal(t, 2, g.Size())
	assert.Len(t, g.TerminalOutputs(), 1)
	assert.Empty(t, compiled.Failures("Default"))
	assert.Len(t, compiled.MarketDataRequirements()["Default"], 1)
	assert.Nil(t, compiled.Portfolio())
	assert.Equal(t, valuationTime, compiled.ValuationTime())
	assert.Equal(t, 0, env.resolver.Calls(target.TypePortfolio), "no portfolio outputs, no portfolio lookup")

	// The unversioned reference is pinned to the version used.
	assert.Equal(t, id.UniqueID{Scheme: "Pos", Value: "A", Version: "1"}, compiled.Resolutions()[fixture.PositionRef("A")])
}

func TestCompileUnresolvedTargetSucceeds(t *testing.T) {
	env := newTestEnv(t)
	compiled, err := env.compiler.Compile(context.Background(), specificView(pvOn("missing")), valuationTime, id.Latest)
	require.NoError(t, err)

	g, _ := compiled.Graph("Default")
	assert.Equal(t, 0, g.Size())
	failures := compiled.Failures("Default")
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Cause, depgraph.ErrUnresolvedTarget)
}

func TestCompilePortfolio(t *testing.T) {
	env := newTestEnv(t)
	compiled, err := env.compiler.Compile(context.Background(), portfolioView(id.Of("Port", "1")), valuationTime, id.Latest)
	require.NoError(t, err)

	require.NotNil(t, compiled.Portfolio())
	assert.Equal(t, 1, env.resolver.Calls(target.TypePortfolio))
	g, _ := compiled.Graph("Default")
	// PV and MarketPrice on three positions, SumPV on two nodes.
	assert.Equal(t, 8, g.Size())
	assert.Len(t, g.MarketDataRequirements(), 3)
	assert.Len(t, compiled.AllComputationTargets(), 5)

	// Every surviving resolution is used by the compiled artifact or
	// retained by policy.
	valid := sets.New(compiled.Portfolio().UniqueID)
	for spec := range compiled.AllComputationTargets() {
		valid.Insert(spec.UniqueID)
	}
	for ref, uid := range compiled.Resolutions() {
		assert.True(t, valid.Has(uid) || ref.Type == target.TypePosition, "unexpected resolution %s -> %s", ref, uid)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	def := portfolioView(id.Of("Port", "1"))
	first, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)
	second, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	g1, _ := first.Graph("Default")
	g2, _ := second.Graph("Default")
	assert.Equal(t, outputs(g1), outputs(g2))
	assert.Equal(t, g1.TerminalOutputs(), g2.TerminalOutputs())
	assert.Equal(t, first.Resolutions(), second.Resolutions())
}

func TestCompilePortfolioErrors(t *testing.T) {
	tests := []struct {
		name      string
		def       func() *view.ViewDefinition
		setup     func(*fixture.Resolver)
		terminal  bool
		retriable bool
		message   string
	}{
		{
			name: "no portfolio reference",
			def: func() *view.ViewDefinition {
				def := portfolioView(id.Of("Port", "1"))
				def.Portfolio = target.Reference{}
				return def
			},
			terminal: true,
			message:  "does not reference a portfolio",
		},
		{
			name:     "portfolio not found",
			def:      func() *view.ViewDefinition { return portfolioView(id.Of("Port", "nope")) },
			terminal: true,
			message:  "unable to resolve portfolio",
		},
		{
			name: "reference resolves to something else",
			def:  func() *view.ViewDefinition { return portfolioView(id.Of("Port", "odd")) },
			setup: func(r *fixture.Resolver) {
				r.Add(&target.Target{
					Specification: target.Specification{Type: target.TypePortfolio, UniqueID: id.Of("Port", "odd")},
					Value:         "not a portfolio",
				})
			},
			terminal: true,
			message:  "unable to identify portfolio",
		},
		{
			name: "resolver unavailable",
			def:  func() *view.ViewDefinition { return portfolioView(id.Of("Port", "1")) },
			setup: func(r *fixture.Resolver) {
				r.Fail(target.NewReference(target.TypePortfolio, id.Of("Port", "1")), errors.New("connection refused"))
			},
			retriable: true,
			message:   "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env.resolver)
			}
			compiled, err := env.compiler.Compile(context.Background(), tt.def(), valuationTime, id.Latest)
			require.Error(t, err)
			assert.Nil(t, compiled)
			assert.Equal(t, tt.terminal, IsTerminal(err))
			assert.Equal(t, tt.retriable, IsRetriable(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestCompileInfrastructureErrorIsRetriable(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.Fail(fixture.PositionRef("A"), errors.New("timeout talking to position master"))

	_, err := env.compiler.Compile(context.Background(), specificView(pvOn("A")), valuationTime, id.Latest)
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
	assert.Contains(t, err.Error(), "timeout talking to position master")
}

func TestInvalidViewDefinition(t *testing.T) {
	env := newTestEnv(t)
	def := specificView(pvOn("A"))
	def.Name = ""
	_, err := env.compiler.FullCompileTask(def, valuationTime, id.Latest)
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	_, err = env.compiler.FullCompileTask(nil, valuationTime, id.Latest)
	assert.True(t, IsTerminal(err))
}

func TestIncrementalWithoutChangesKeepsGraph(t *testing.T) {
	env := newTestEnv(t)
	def := portfolioView(id.Of("Port", "1"))
	full, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	task, err := env.compiler.IncrementalCompileTask(def, valuationTime, id.Latest, full.Previous(), nil)
	require.NoError(t, err)
	assert.Equal(t, KindIncrementalPartial, task.Kind())
	incremental, err := task.Get(context.Background())
	require.NoError(t, err)

	before, _ := full.Graph("Default")
	after, _ := incremental.Graph("Default")
	assert.Equal(t, outputs(before), outputs(after))
	assert.Equal(t, full.Resolutions(), incremental.Resolutions())
	assert.Equal(t, StateDone, task.State())
	assert.True(t, task.IsDone())
}

func TestIncrementalRebuildsChangedPosition(t *testing.T) {
	env := newTestEnv(t)
	def := portfolioView(id.Of("Port", "1"))
	full, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	next := fixture.Equity("A", "AAA", "2", 15)
	require.NoError(t, env.resolver.ReplacePosition(env.portfolio, next))

	changed := sets.New(next.UniqueID.ObjectID())
	task, err := env.compiler.IncrementalCompileTask(def, valuationTime, id.Latest, full.Previous(), changed)
	require.NoError(t, err)
	incremental, err := task.Get(context.Background())
	require.NoError(t, err)

	g, _ := incremental.Graph("Default")
	assert.Equal(t, 8, g.Size())
	targets := incremental.AllComputationTargets()
	assert.True(t, targets.Has(target.Specification{Type: target.TypePosition, UniqueID: next.UniqueID}))
	assert.False(t, targets.Has(target.Specification{Type: target.TypePosition, UniqueID: id.UniqueID{Scheme: "Pos", Value: "A", Version: "1"}}))
	assert.Equal(t, next.UniqueID, incremental.Resolutions()[fixture.PositionRef("A")])

	// The previous artifact is untouched.
	assert.Equal(t, id.UniqueID{Scheme: "Pos", Value: "A", Version: "1"}, full.Resolutions()[fixture.PositionRef("A")])
}

func TestIncrementalDropsRemovedPosition(t *testing.T) {
	env := newTestEnv(t)
	def := portfolioView(id.Of("Port", "1"))
	previous, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	// C leaves the portfolio but stays known to the resolver.
	child := env.portfolio.Root.Children[0]
	removed := child.Positions[0]
	child.Positions = nil

	task, err := env.compiler.IncrementalCompileTask(def, valuationTime, id.Latest,
		previous.Previous(), sets.New(removed.UniqueID.ObjectID()))
	require.NoError(t, err)
	incremental, err := task.Get(context.Background())
	require.NoError(t, err)

	full, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	got, _ := incremental.Graph("Default")
	want, _ := full.Graph("Default")
	assert.Equal(t, 6, want.Size())
	assert.ElementsMatch(t, outputs(want), outputs(got))
	assert.ElementsMatch(t, want.TerminalOutputSpecifications(), got.TerminalOutputSpecifications())
	assert.False(t, incremental.AllComputationTargets().Has(
		target.Specification{Type: target.TypePosition, UniqueID: removed.UniqueID}))
}

func TestIncrementalKeepsExplicitRequirementOnChangedPosition(t *testing.T) {
	env := newTestEnv(t)
	def := specificView(pvOn("A"))
	previous, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	next := fixture.Equity("A", "AAA", "2", 15)
	env.resolver.AddPosition(next)

	task, err := env.compiler.IncrementalCompileTask(def, valuationTime, id.Latest,
		previous.Previous(), sets.New(next.UniqueID.ObjectID()))
	require.NoError(t, err)
	incremental, err := task.Get(context.Background())
	require.NoError(t, err)

	g, _ := incremental.Graph("Default")
	require.Equal(t, 2, g.Size())
	assert.Len(t, g.TerminalOutputs(), 1)
	assert.True(t, incremental.AllComputationTargets().Has(
		target.Specification{Type: target.TypePosition, UniqueID: next.UniqueID}))
}

func TestIncrementalFullResolve(t *testing.T) {
	env := newTestEnv(t)
	def := portfolioView(id.Of("Port", "1"))
	full, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)

	task, err := env.compiler.IncrementalCompileTaskFullResolve(def, valuationTime, id.Latest, full.Previous())
	require.NoError(t, err)
	incremental, err := task.Get(context.Background())
	require.NoError(t, err)

	before, _ := full.Graph("Default")
	after, _ := incremental.Graph("Default")
	assert.ElementsMatch(t, outputs(before), outputs(after))
}

func TestTaskCancel(t *testing.T) {
	env := newTestEnv(t)
	release := env.resolver.Block()
	defer release()

	task, err := env.compiler.FullCompileTask(specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() {
		_, err := task.Get(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return env.resolver.Calls(target.TypePosition) > 0 }, 5*time.Second, time.Millisecond)

	assert.True(t, task.Cancel())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not finish")
	}
	assert.True(t, task.IsCancelled())
	assert.False(t, task.IsDone())
	assert.Equal(t, StateCancelled, task.State())
	assert.True(t, task.Cancel(), "cancelling twice still reports cancelled")
}

func TestTaskCancelBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.compiler.FullCompileTask(specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)

	assert.True(t, task.Cancel())
	compiled, err := task.Get(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, compiled)
	assert.Equal(t, 0, env.resolver.Calls(target.TypePosition))
}

func TestTaskGetTimeout(t *testing.T) {
	env := newTestEnv(t)
	release := env.resolver.Block()

	task, err := env.compiler.FullCompileTask(specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = task.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, task.IsCancelled(), "an expired wait does not cancel the task")

	release()
	compiled, err := task.Get(context.Background())
	require.NoError(t, err)
	g, _ := compiled.Graph("Default")
	assert.Equal(t, 2, g.Size())
}

func TestProgressObserver(t *testing.T) {
	var (
		mu      sync.Mutex
		reports = map[string][]float64{}
	)
	observer := func(config string, estimate float64) bool {
		mu.Lock()
		defer mu.Unlock()
		reports[config] = append(reports[config], estimate)
		return true
	}
	env := newTestEnv(t, WithProgressObserver(observer), WithProgressInterval(time.Millisecond))
	release := env.resolver.Block()

	task, err := env.compiler.FullCompileTask(specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := task.Get(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports["Default"]) > 0
	}, 5*time.Second, time.Millisecond)
	assert.Less(t, task.CompletionEstimate(), 1.0)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1.0, task.CompletionEstimate())

	mu.Lock()
	defer mu.Unlock()
	for _, estimate := range reports["Default"] {
		assert.GreaterOrEqual(t, estimate, 0.0)
		assert.LessOrEqual(t, estimate, 1.0)
	}
}

func TestIsStaleAfterReload(t *testing.T) {
	env := newTestEnv(t)
	compiled, err := env.compiler.Compile(context.Background(), specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)
	assert.False(t, compiled.IsStale(env.repo))

	require.NoError(t, env.repo.Reload(fixture.Functions()...))
	assert.True(t, compiled.IsStale(env.repo))
}

func TestCompileWithDiagnostics(t *testing.T) {
	gate := features.FeatureGate.DeepCopy()
	require.NoError(t, gate.Set("CompilationDiagnostics=true,CompilationProgressLogging=true"))
	env := newTestEnv(t, WithFeatureGate(gate))

	compiled, err := env.compiler.Compile(context.Background(),
		specificView(pvOn("A"), pvOn("missing")), valuationTime, id.Latest)
	require.NoError(t, err)
	g, _ := compiled.Graph("Default")
	assert.Equal(t, 2, g.Size())
	assert.Len(t, compiled.Failures("Default"), 1)
}

func TestDiagnosticsLogNodeTable(t *testing.T) {
	gate := features.FeatureGate.DeepCopy()
	require.NoError(t, gate.Set("CompilationDiagnostics=true"))
	var (
		mu    sync.Mutex
		lines []string
	)
	sink := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})
	env := newTestEnv(t, WithFeatureGate(gate), WithLogger(sink))

	_, err := env.compiler.Compile(context.Background(), specificView(pvOn("A")), valuationTime, id.Latest)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	all := strings.Join(lines, "\n")
	assert.Contains(t, all, "dependency graph nodes")
	assert.Contains(t, all, "MarketPrice")
	assert.Contains(t, all, "no exceptions raised for configuration")
}

func TestRetentionPolicy(t *testing.T) {
	gate := features.FeatureGate.DeepCopy()
	require.NoError(t, gate.Set("RetainPortfolioNodeResolutions=true"))
	env := newTestEnv(t, WithFeatureGate(gate))
	assert.True(t, env.compiler.config.Retention(target.NewReference(target.TypePortfolioNode, id.Of("Node", "x"))))

	env = newTestEnv(t)
	assert.True(t, env.compiler.config.Retention(fixture.PositionRef("A")))
	assert.False(t, env.compiler.config.Retention(target.NewReference(target.TypePortfolioNode, id.Of("Node", "x"))))

	none := func(target.Reference) bool { return false }
	env = newTestEnv(t, WithRetentionPolicy(none))
	compiled, err := env.compiler.Compile(context.Background(), specificView(pvOn("A"), pvOn("missing")), valuationTime, id.Latest)
	require.NoError(t, err)
	for _, uid := range compiled.Resolutions() {
		assert.Equal(t, "A", uid.Value)
	}
}

func TestMultipleConfigurationsBuildIndependently(t *testing.T) {
	env := newTestEnv(t, WithParallelism(1))
	def := specificView(pvOn("A"))
	def.CalculationConfigurations = append(def.CalculationConfigurations,
		&view.CalculationConfiguration{Name: "Risk", SpecificRequirements: []value.Requirement{
			value.NewRequirement(fixture.Delta, fixture.PositionRef("B"), value.Props()),
		}})

	compiled, err := env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)
	assert.Equal(t, []string{"Default", "Risk"}, compiled.CalculationConfigurationNames())
	risk, _ := compiled.Graph("Risk")
	require.Equal(t, 2, risk.Size())
	assert.Equal(t, "SecPrice", risk.Nodes()[0].FunctionID())
	assert.Len(t, compiled.Graphs(), 2)
}

func TestTargetCacheSpansCompilations(t *testing.T) {
	env := newTestEnv(t, WithTargetCache(64))
	_, cached := env.compiler.resolver.(*target.CachingResolver)
	require.True(t, cached)

	vc := id.At(valuationTime, valuationTime)
	def := specificView(pvOn("A"))
	_, err := env.compiler.Compile(context.Background(), def, valuationTime, vc)
	require.NoError(t, err)
	calls := env.resolver.Calls(target.TypePosition)
	require.Positive(t, calls)

	compiled, err := env.compiler.Compile(context.Background(), def, valuationTime, vc)
	require.NoError(t, err)
	g, _ := compiled.Graph("Default")
	assert.Equal(t, 2, g.Size())
	assert.Equal(t, calls, env.resolver.Calls(target.TypePosition))

	// Latest lookups always reach the resolver.
	_, err = env.compiler.Compile(context.Background(), def, valuationTime, id.Latest)
	require.NoError(t, err)
	assert.Greater(t, env.resolver.Calls(target.TypePosition), calls)
}
