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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/value"
)

// Builder resolves value requirements of one calculation configuration
// into a dependency graph.
//
// AddTarget and the progress methods are safe to call from any goroutine.
// Resolution happens on the goroutine calling DependencyGraph.
type Builder struct {
	config    string
	resolver  target.Resolver
	functions function.Repository
	vc        id.VersionCorrection
	log       logr.Logger

	qmu     sync.Mutex
	queue   []value.Requirement
	started bool

	// mu guards the resolution state below.
	mu          sync.Mutex
	graph       *Graph
	resolved    map[value.Requirement]value.Specification
	failed      map[value.Requirement]error
	inProgress  map[value.Requirement]struct{}
	targets     map[target.Reference]targetOutcome
	unsatisfied []value.Requirement
	failures    *failureLog

	cancelled atomic.Bool
	queued    atomic.Int64
	done      atomic.Int64
}

type targetOutcome struct {
	tgt *target.Target
	err error
}

// abortError stops the whole build: resolver or repository failures,
// context cancellation.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger used for resolution diagnostics.
func WithBuilderLogger(log logr.Logger) BuilderOption {
	return func(b *Builder) { b.log = log }
}

// NewBuilder creates a builder for the named configuration. All targets are
// resolved at vc.
func NewBuilder(config string, resolver target.Resolver, functions function.Repository, vc id.VersionCorrection, opts ...BuilderOption) *Builder {
	b := &Builder{
		config:     config,
		resolver:   resolver,
		functions:  functions,
		vc:         vc,
		log:        logr.Discard(),
		graph:      NewGraph(config),
		resolved:   make(map[value.Requirement]value.Specification),
		failed:     make(map[value.Requirement]error),
		inProgress: make(map[value.Requirement]struct{}),
		targets:    make(map[target.Reference]targetOutcome),
		failures:   newFailureLog(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithValues("configuration", config)
	return b
}

// CalculationConfigurationName returns the configuration the builder serves.
func (b *Builder) CalculationConfigurationName() string { return b.config }

// AddTarget queues requirements to be satisfied as terminal outputs.
func (b *Builder) AddTarget(reqs ...value.Requirement) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	b.started = true
	b.queue = append(b.queue, reqs...)
	b.queued.Add(int64(len(reqs)))
}

// SetDependencyGraph seeds the builder with a previously built graph. Its
// nodes are reused and its terminal requirements are already satisfied.
// It must be called before AddTarget.
func (b *Builder) SetDependencyGraph(g *Graph) error {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph.Size() > 0 || len(b.graph.terminal) > 0 {
		return ErrAlreadyStarted
	}
	b.graph = g.clone()
	b.graph.config = b.config
	for spec, reqs := range b.graph.terminal {
		for _, req := range reqs {
			b.resolved[req] = spec
		}
	}
	return nil
}

func (b *Builder) pop() (value.Requirement, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if len(b.queue) == 0 {
		return value.Requirement{}, false
	}
	req := b.queue[0]
	b.queue = b.queue[1:]
	return req, true
}

// DependencyGraph resolves every queued requirement and returns a snapshot
// of the graph. Unsatisfiable requirements are dropped and recorded in
// Failures. It returns ErrCancelled after Cancel, and a wrapped error when
// the resolver or repository fails.
func (b *Builder) DependencyGraph(ctx context.Context) (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.cancelled.Load() {
			return nil, ErrCancelled
		}
		req, ok := b.pop()
		if !ok {
			break
		}
		spec, err := b.resolve(ctx, req)
		if err != nil {
			var abort *abortError
			if errors.As(err, &abort) {
				return nil, abort.err
			}
			if errors.Is(err, ErrCancelled) {
				return nil, ErrCancelled
			}
			b.unsatisfied = append(b.unsatisfied, req)
			b.log.V(1).Info("requirement not satisfied", "requirement", req.String(), "reason", err.Error())
			continue
		}
		b.graph.addTerminal(spec, req)
	}
	return b.graph.clone(), nil
}

// Cancel stops resolution at the next node-resolution step. It always
// acknowledges.
func (b *Builder) Cancel() bool {
	b.cancelled.Store(true)
	return true
}

// IsCancelled reports whether Cancel was called.
func (b *Builder) IsCancelled() bool { return b.cancelled.Load() }

// BuildFractionEstimate returns the fraction of known requirements resolved
// so far, between 0 and 1. The total grows as inputs are discovered, so the
// estimate can move backwards.
func (b *Builder) BuildFractionEstimate() float64 {
	total := b.queued.Load()
	if total == 0 {
		return 1
	}
	done := b.done.Load()
	if done >= total {
		return 1
	}
	return float64(done) / float64(total)
}

// Failures returns the distinct failures seen so far, most frequent first.
func (b *Builder) Failures() []Failure { return b.failures.snapshot() }

// UnsatisfiedRequirements returns the terminal requirements that were
// dropped.
func (b *Builder) UnsatisfiedRequirements() []value.Requirement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]value.Requirement(nil), b.unsatisfied...)
}

func isAbort(err error) bool {
	var abort *abortError
	return errors.As(err, &abort) || errors.Is(err, ErrCancelled)
}

// resolve returns the output satisfying req, memoizing successes and
// non-circular failures. Callers hold mu.
func (b *Builder) resolve(ctx context.Context, req value.Requirement) (value.Specification, error) {
	defer b.done.Add(1)
	if b.cancelled.Load() {
		return value.Specification{}, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return value.Specification{}, &abortError{err: err}
	}
	if spec, ok := b.resolved[req]; ok {
		return spec, nil
	}
	if err, ok := b.failed[req]; ok {
		return value.Specification{}, err
	}
	if _, ok := b.inProgress[req]; ok {
		err := fmt.Errorf("%w: %s", ErrCircularRequirement, req)
		b.failures.record(req, err)
		return value.Specification{}, err
	}
	b.inProgress[req] = struct{}{}
	defer delete(b.inProgress, req)

	spec, err := b.resolveUncached(ctx, req)
	if err != nil {
		if !isAbort(err) && !errors.Is(err, ErrCircularRequirement) {
			b.failed[req] = err
		}
		return value.Specification{}, err
	}
	b.resolved[req] = spec
	return spec, nil
}

func (b *Builder) resolveUncached(ctx context.Context, req value.Requirement) (value.Specification, error) {
	tgt, err := b.resolveTarget(ctx, req.Target)
	if err != nil {
		if !isAbort(err) {
			b.failures.record(req, err)
		}
		return value.Specification{}, err
	}
	candidates, err := b.functions.FindApplicable(ctx, req, tgt)
	if err != nil {
		return value.Specification{}, &abortError{err: fmt.Errorf("finding functions for %s: %w", req, err)}
	}
	if len(candidates) == 0 {
		err := fmt.Errorf("%w: %s", ErrNoApplicableFunction, req)
		b.failures.record(req, err)
		return value.Specification{}, err
	}

	var lastErr error
	for _, c := range candidates {
		if n, ok := b.graph.bySpec[c.Output]; ok {
			return n.Output, nil
		}
		inputs, err := b.resolveInputs(ctx, c)
		if err != nil {
			if isAbort(err) {
				return value.Specification{}, err
			}
			lastErr = err
			continue
		}
		if _, ok := b.graph.bySpec[c.Output]; !ok {
			b.graph.addNode(&Node{Function: c.Function, Target: tgt.Specification, Inputs: inputs, Output: c.Output})
		}
		return c.Output, nil
	}
	return value.Specification{}, fmt.Errorf("%w: %s: %w", ErrUnsatisfiedInput, req, lastErr)
}

func (b *Builder) resolveInputs(ctx context.Context, c function.Candidate) ([]value.Specification, error) {
	reqs := c.InputRequirements()
	if len(reqs) == 0 {
		return nil, nil
	}
	b.queued.Add(int64(len(reqs)))
	inputs := make([]value.Specification, 0, len(reqs))
	for i, in := range reqs {
		spec, err := b.resolve(ctx, in)
		if err != nil {
			// The remaining inputs will not be resolved.
			b.done.Add(int64(len(reqs) - i - 1))
			return nil, err
		}
		inputs = append(inputs, spec)
	}
	return inputs, nil
}

// resolveTarget resolves a reference once per builder. NotFound outcomes
// are cached alongside successes.
func (b *Builder) resolveTarget(ctx context.Context, ref target.Reference) (*target.Target, error) {
	if o, ok := b.targets[ref]; ok {
		return o.tgt, o.err
	}
	tgt, err := b.resolver.Resolve(ctx, ref, b.vc)
	switch {
	case err == nil && tgt == nil:
		err = fmt.Errorf("%w: %w", ErrUnresolvedTarget, target.NotFound(ref, b.vc))
	case target.IsNotFound(err):
		err = fmt.Errorf("%w: %w", ErrUnresolvedTarget, err)
	case err != nil:
		return nil, &abortError{err: fmt.Errorf("resolving %s: %w", ref, err)}
	}
	b.targets[ref] = targetOutcome{tgt: tgt, err: err}
	return tgt, err
}
