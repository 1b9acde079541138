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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joequant/OG-Platform/pkg/depgraph"
	"github.com/joequant/OG-Platform/pkg/features"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/position"
	"github.com/joequant/OG-Platform/pkg/resolution"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
	"github.com/joequant/OG-Platform/pkg/view"
)

// Kind is the flavour of a compilation task.
type Kind string

const (
	// KindFull compiles from scratch with a fresh resolution map.
	KindFull Kind = "full"
	// KindIncrementalFull seeds builders with previous graphs and
	// re-expands every requirement.
	KindIncrementalFull Kind = "incremental-full"
	// KindIncrementalPartial seeds builders with previous graphs and
	// re-expands only changed positions.
	KindIncrementalPartial Kind = "incremental-partial"
)

// State is the lifecycle state of a Task.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) terminal() bool { return s >= StateDone }

// Task is one compilation pass. It starts on the first call to Get and runs
// to completion in the background; Get only waits for it.
type Task struct {
	id            string
	kind          Kind
	c             *ViewCompiler
	def           *view.ViewDefinition
	valuationTime time.Time
	vc            id.VersionCorrection
	previous      Previous
	changed       sets.Set[id.ObjectID]
	resolutions   *resolution.Map
	resolver      *resolution.RecordingResolver
	builders      []*depgraph.Builder
	log           logr.Logger

	state atomic.Int32
	start sync.Once
	done  chan struct{}

	mu        sync.Mutex
	cancelRun context.CancelFunc

	result *CompiledViewDefinition
	err    error
}

func (c *ViewCompiler) newTask(kind Kind, def *view.ViewDefinition, valuationTime time.Time, vc id.VersionCorrection, previous Previous, changed sets.Set[id.ObjectID]) (*Task, error) {
	if def == nil {
		return nil, terminalf("validate", "view definition is nil")
	}
	if err := def.Validate(); err != nil {
		return nil, terminal("validate", err)
	}
	resolutions := resolution.NewMap()
	if kind != KindFull && previous.Resolutions != nil {
		resolutions = previous.Resolutions.Clone()
	}
	t := &Task{
		id:            uuid.NewString(),
		kind:          kind,
		c:             c,
		def:           def,
		valuationTime: valuationTime,
		vc:            vc,
		previous:      previous,
		changed:       changed,
		resolutions:   resolutions,
		done:          make(chan struct{}),
	}
	t.log = c.log.WithValues("view", def.Name, "task", t.id, "kind", string(kind))
	t.resolver = resolution.NewRecordingResolver(c.resolver, resolutions)
	for _, config := range def.CalculationConfigurations {
		t.builders = append(t.builders, depgraph.NewBuilder(config.Name, t.resolver, c.functions, vc,
			depgraph.WithBuilderLogger(t.log.WithName("builder"))))
	}
	return t, nil
}

// ID returns the task id used in logs.
func (t *Task) ID() string { return t.id }

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Get starts the task if needed and waits for its result. A done or
// expired ctx stops the wait, not the task; use Cancel to stop the task.
// A cancelled task returns ErrCancelled and no artifact.
func (t *Task) Get(ctx context.Context) (*CompiledViewDefinition, error) {
	t.start.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		t.mu.Lock()
		t.cancelRun = cancel
		t.mu.Unlock()
		go t.run(runCtx)
	})
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels every builder and the task. It returns true only if the
// task is now cancelled and every builder acknowledged.
func (t *Task) Cancel() bool {
	for {
		s := State(t.state.Load())
		if s.terminal() {
			return s == StateCancelled
		}
		if t.state.CompareAndSwap(int32(s), int32(StateCancelled)) {
			break
		}
	}
	acknowledged := true
	for _, b := range t.builders {
		if !b.Cancel() {
			acknowledged = false
		}
	}
	t.mu.Lock()
	if t.cancelRun != nil {
		t.cancelRun()
	}
	t.mu.Unlock()
	t.log.Info("compilation cancelled")
	return acknowledged
}

// IsCancelled reports whether the task or any of its builders was
// cancelled.
func (t *Task) IsCancelled() bool {
	if t.State() == StateCancelled {
		return true
	}
	for _, b := range t.builders {
		if b.IsCancelled() {
			return true
		}
	}
	return false
}

// IsDone reports whether the task finished, successfully or not, without
// being cancelled.
func (t *Task) IsDone() bool {
	s := t.State()
	return s == StateDone || s == StateFailed
}

// CompletionEstimate returns the mean of the builders' completion
// estimates.
func (t *Task) CompletionEstimate() float64 {
	if len(t.builders) == 0 {
		return 1
	}
	var sum float64
	for _, b := range t.builders {
		sum += b.BuildFractionEstimate()
	}
	return sum / float64(len(t.builders))
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		t.err = ErrCancelled
		return
	}
	start := time.Now()
	t.log.Info("compiling view definition",
		"valuationTime", t.valuationTime, "versionCorrection", t.vc.String(),
		"configurations", len(t.builders))

	result, err := t.compile(ctx)
	final := StateDone
	switch {
	case IsCancelled(err) || errors.Is(err, depgraph.ErrCancelled):
		final = StateCancelled
		err = ErrCancelled
	case err != nil:
		final = StateFailed
	}
	if !t.state.CompareAndSwap(int32(StateRunning), int32(final)) {
		// Cancelled while finishing.
		final = StateCancelled
		err = ErrCancelled
	}
	if err != nil {
		result = nil
	}
	duration := time.Since(start)
	Metrics.ObserveCompilation(t.kind, duration.Seconds(), err)

	switch final {
	case StateDone:
		t.log.Info("compiled view definition", "duration", duration.String())
	case StateCancelled:
		t.log.Info("compilation cancelled before completion", "duration", duration.String())
	default:
		t.log.Error(err, "compilation failed", "duration", duration.String())
	}
	t.result, t.err = result, err
}

func (t *Task) compile(ctx context.Context) (*CompiledViewDefinition, error) {
	if err := t.seed(); err != nil {
		return nil, err
	}

	var portfolio *position.Portfolio
	if t.needsPortfolio() {
		p, err := t.resolvePortfolio(ctx)
		if err != nil {
			return nil, err
		}
		portfolio = p
	}

	cc := &CompilationContext{
		ViewDefinition:    t.def,
		ValuationTime:     t.valuationTime,
		VersionCorrection: t.vc,
		Portfolio:         portfolio,
		Resolver:          t.resolver,
		builders:          make(map[string]*depgraph.Builder, len(t.builders)),
	}
	for _, b := range t.builders {
		cc.builders[b.CalculationConfigurationName()] = b
	}
	if err := t.expand(ctx, cc); err != nil {
		return nil, err
	}

	stopWatching := t.watchProgress(ctx)
	graphs, err := t.build(ctx)
	stopWatching()
	if err != nil {
		return nil, err
	}
	return t.assemble(portfolio, graphs), nil
}

// seed hands previous graphs to the builders of an incremental task. A
// partial task first cuts out everything built on changed positions and
// forgets their resolutions.
func (t *Task) seed() error {
	if t.kind == KindFull {
		return nil
	}
	partial := t.kind == KindIncrementalPartial && t.changed.Len() > 0
	for _, b := range t.builders {
		name := b.CalculationConfigurationName()
		prev, ok := t.previous.Graphs[name]
		if !ok || prev.Graph == nil {
			continue
		}
		g := prev.Graph
		reqs := append([]value.Requirement(nil), prev.Requirements...)
		if partial {
			var requeue []value.Requirement
			g, requeue = g.WithoutTargets(t.changed)
			config, _ := t.def.CalculationConfiguration(name)
			reqs = append(reqs, requeueable(requeue, t.changed, config)...)
		}
		if err := b.SetDependencyGraph(g); err != nil {
			return terminal("seed", fmt.Errorf("calculation configuration %q: %w", name, err))
		}
		if len(reqs) > 0 {
			t.log.V(1).Info("incremental resolutions required", "configuration", name, "count", len(reqs))
			b.AddTarget(reqs...)
		}
	}
	if partial {
		forgotten := t.resolutions.ForgetObjects(t.changed)
		if t.def.HasPortfolio() {
			t.resolutions.Delete(t.def.Portfolio)
		}
		t.log.V(1).Info("forgot resolutions of changed objects", "count", forgotten)
	}
	return nil
}

// requeueable filters the terminal requirements invalidated by a partial
// recompilation. Requirements on changed objects are dropped unless the
// configuration asks for them explicitly; the portfolio compiler adds them
// back for positions still in the portfolio.
func requeueable(reqs []value.Requirement, changed sets.Set[id.ObjectID], config *view.CalculationConfiguration) []value.Requirement {
	explicit := make(map[value.Requirement]struct{})
	if config != nil {
		for _, r := range config.SpecificRequirements {
			explicit[r] = struct{}{}
		}
	}
	out := make([]value.Requirement, 0, len(reqs))
	for _, r := range reqs {
		if changed.Has(r.Target.UniqueID.ObjectID()) {
			if _, ok := explicit[r]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// needsPortfolio reports whether any configuration asks for portfolio
// outputs.
func (t *Task) needsPortfolio() bool {
	if !t.def.ResultModel.PortfolioOutputsEnabled() {
		return false
	}
	for _, config := range t.def.CalculationConfigurations {
		if config.HasPortfolioRequirements() {
			return true
		}
	}
	return false
}

func (t *Task) resolvePortfolio(ctx context.Context) (*position.Portfolio, error) {
	if !t.def.HasPortfolio() {
		return nil, terminalf("portfolio", "view definition %q contains required portfolio outputs, but it does not reference a portfolio", t.def.Name)
	}
	ref := t.def.Portfolio
	tgt, err := t.resolver.Resolve(ctx, ref, t.vc)
	switch {
	case target.IsNotFound(err):
		return nil, terminalf("portfolio", "unable to resolve portfolio %s: %w", ref, err)
	case err != nil:
		return nil, retriable("portfolio", fmt.Errorf("resolving portfolio %s: %w", ref, err))
	}
	portfolio, ok := tgt.Value.(*position.Portfolio)
	if !ok {
		return nil, terminalf("portfolio", "unable to identify portfolio %s: resolved to %T", ref, tgt.Value)
	}
	t.resolutions.PutIfAbsent(tgt.Specification.Reference(), tgt.UniqueID())
	t.log.V(1).Info("resolved portfolio", "portfolio", tgt.UniqueID().String())
	return portfolio, nil
}

func (t *Task) expand(ctx context.Context, cc *CompilationContext) error {
	switch t.kind {
	case KindFull, KindIncrementalFull:
		if err := t.c.specificCompiler.Expand(cc); err != nil {
			return terminal("expand", err)
		}
		if err := t.c.portfolioCompiler.ExpandFull(ctx, cc, t.resolutions); err != nil {
			return retriable("expand", err)
		}
	case KindIncrementalPartial:
		if err := t.c.portfolioCompiler.ExpandIncremental(ctx, cc, t.resolutions, t.changed); err != nil {
			return retriable("expand", err)
		}
	}
	return nil
}

// build runs one builder per configuration concurrently and waits for all
// of them. A builder failing or being cancelled does not stop its peers.
func (t *Task) build(ctx context.Context) ([]*depgraph.Graph, error) {
	graphs := make([]*depgraph.Graph, len(t.builders))
	var g errgroup.Group
	g.SetLimit(t.c.config.Parallelism)
	for i, b := range t.builders {
		g.Go(func() error {
			graph, err := b.DependencyGraph(ctx)
			if err != nil {
				if errors.Is(err, depgraph.ErrCancelled) || t.State() == StateCancelled {
					return ErrCancelled
				}
				return retriable("build", fmt.Errorf("calculation configuration %q: %w", b.CalculationConfigurationName(), err))
			}
			graphs[i] = graph.WithoutUnnecessaryValues()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return graphs, nil
}

func (t *Task) assemble(portfolio *position.Portfolio, graphs []*depgraph.Graph) *CompiledViewDefinition {
	pruned := pruneResolutions(t.resolutions, portfolio, graphs, t.c.config.Retention)
	Metrics.ObserveResolutions(pruned, t.resolutions.Len())
	t.log.V(1).Info("pruned resolutions", "removed", pruned, "retained", t.resolutions.Len())

	compiled := &CompiledViewDefinition{
		viewDefinition:     t.def,
		versionCorrection:  t.vc,
		valuationTime:      t.valuationTime,
		portfolio:          portfolio,
		functionGeneration: t.c.functions.Generation(),
		graphs:             make(map[string]*depgraph.Graph, len(graphs)),
		failures:           make(map[string][]depgraph.Failure, len(graphs)),
		resolutions:        t.resolutions.Snapshot(),
	}
	for i, b := range t.builders {
		name := b.CalculationConfigurationName()
		compiled.names = append(compiled.names, name)
		compiled.graphs[name] = graphs[i]
		compiled.failures[name] = b.Failures()
		Metrics.ObserveGraph(t.kind, graphs[i].Size(), len(b.UnsatisfiedRequirements()))
	}
	if t.c.gate.Enabled(features.CompilationDiagnostics) {
		t.dumpDiagnostics(compiled)
	}
	return compiled
}

// pruneResolutions drops resolutions to ids that neither the portfolio nor
// any node target uses, except those the retention policy keeps.
func pruneResolutions(m *resolution.Map, portfolio *position.Portfolio, graphs []*depgraph.Graph, retain resolution.RetentionPolicy) int {
	valid := sets.New[id.UniqueID]()
	if portfolio != nil {
		valid.Insert(portfolio.UniqueID)
	}
	for _, g := range graphs {
		for spec := range g.AllComputationTargets() {
			valid.Insert(spec.UniqueID)
		}
	}
	return m.Prune(valid, retain)
}
