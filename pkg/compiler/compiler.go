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

// Package compiler compiles view definitions into dependency graphs, one
// per calculation configuration, built concurrently. It supports full
// compilation and incremental recompilation from a previous result.
package compiler

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/component-base/featuregate"

	"github.com/joequant/OG-Platform/pkg/features"
	"github.com/joequant/OG-Platform/pkg/function"
	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/resolution"
	"github.com/joequant/OG-Platform/pkg/target"
	"github.com/joequant/OG-Platform/pkg/view"
)

const (
	defaultParallelism      = 4
	defaultProgressInterval = 5 * time.Second
)

// ProgressObserver receives completion estimates between 0 and 1 for one
// configuration. Returning false stops reporting for that configuration.
type ProgressObserver func(config string, estimate float64) bool

// Config holds compiler settings.
type Config struct {
	// Parallelism caps how many configurations are built at once.
	Parallelism int
	// ProgressInterval is the period of the progress watcher.
	ProgressInterval time.Duration
	// Retention decides which resolutions survive pruning regardless of
	// reachability. Nil selects the policy implied by the feature gates.
	Retention resolution.RetentionPolicy
	// TargetCacheSize, when positive, puts an LRU of that many targets in
	// front of the resolver. Only fixed version-corrections are cached.
	TargetCacheSize int
}

func defaultConfig() Config {
	return Config{
		Parallelism:      defaultParallelism,
		ProgressInterval: defaultProgressInterval,
	}
}

// ViewCompiler creates compilation tasks.
type ViewCompiler struct {
	resolver          target.Resolver
	functions         function.Repository
	portfolioCompiler PortfolioCompiler
	specificCompiler  RequirementsCompiler
	observer          ProgressObserver
	gate              featuregate.FeatureGate
	config            Config
	log               logr.Logger
}

// Option configures a ViewCompiler before defaults are applied.
type Option func(*ViewCompiler)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option { return func(c *ViewCompiler) { c.log = log } }

// WithParallelism caps concurrent configuration builds.
func WithParallelism(n int) Option { return func(c *ViewCompiler) { c.config.Parallelism = n } }

// WithPortfolioCompiler overrides the portfolio expansion stage.
func WithPortfolioCompiler(p PortfolioCompiler) Option {
	return func(c *ViewCompiler) { c.portfolioCompiler = p }
}

// WithSpecificRequirementsCompiler overrides the explicit requirement
// expansion stage.
func WithSpecificRequirementsCompiler(r RequirementsCompiler) Option {
	return func(c *ViewCompiler) { c.specificCompiler = r }
}

// WithProgressObserver registers a progress observer. Without one, and
// with CompilationProgressLogging disabled, no watcher runs.
func WithProgressObserver(o ProgressObserver) Option {
	return func(c *ViewCompiler) { c.observer = o }
}

// WithProgressInterval sets the progress watcher period.
func WithProgressInterval(d time.Duration) Option {
	return func(c *ViewCompiler) { c.config.ProgressInterval = d }
}

// WithRetentionPolicy overrides which resolutions always survive pruning.
func WithRetentionPolicy(p resolution.RetentionPolicy) Option {
	return func(c *ViewCompiler) { c.config.Retention = p }
}

// WithTargetCache caches resolved targets across compilations.
func WithTargetCache(size int) Option {
	return func(c *ViewCompiler) { c.config.TargetCacheSize = size }
}

// WithFeatureGate overrides the global feature gate.
func WithFeatureGate(g featuregate.FeatureGate) Option {
	return func(c *ViewCompiler) { c.gate = g }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option { return func(c *ViewCompiler) { c.config = cfg } }

// New constructs a ViewCompiler over a target resolver and a function
// repository.
func New(resolver target.Resolver, functions function.Repository, opts ...Option) *ViewCompiler {
	c := &ViewCompiler{
		resolver:  resolver,
		functions: functions,
		config:    defaultConfig(),
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.portfolioCompiler == nil {
		c.portfolioCompiler = newPortfolioCompiler()
	}
	if c.specificCompiler == nil {
		c.specificCompiler = newSpecificRequirementsCompiler()
	}
	if c.gate == nil {
		c.gate = features.FeatureGate
	}
	if c.config.Parallelism <= 0 {
		c.config.Parallelism = defaultParallelism
	}
	if c.config.ProgressInterval <= 0 {
		c.config.ProgressInterval = defaultProgressInterval
	}
	if c.config.Retention == nil {
		c.config.Retention = resolution.DefaultRetention
		if c.gate.Enabled(features.RetainPortfolioNodeResolutions) {
			c.config.Retention = resolution.RetainTypes(target.TypePosition, target.TypePortfolioNode)
		}
	}
	c.log = c.log.WithName("view-compiler")
	if c.config.TargetCacheSize > 0 {
		cached, err := target.NewCachingResolver(c.resolver, c.config.TargetCacheSize)
		if err != nil {
			c.log.Error(err, "target cache disabled")
		} else {
			c.resolver = cached
		}
	}
	return c
}

// FullCompileTask returns a task compiling def from scratch.
func (c *ViewCompiler) FullCompileTask(def *view.ViewDefinition, valuationTime time.Time, vc id.VersionCorrection) (*Task, error) {
	return c.newTask(KindFull, def, valuationTime, vc, Previous{}, nil)
}

// IncrementalCompileTask returns a task that reuses previous graphs and
// resolutions and re-expands only the changed positions. Nodes on changed
// positions, and every node consuming them, are rebuilt.
func (c *ViewCompiler) IncrementalCompileTask(def *view.ViewDefinition, valuationTime time.Time, vc id.VersionCorrection, previous Previous, changed sets.Set[id.ObjectID]) (*Task, error) {
	if changed == nil {
		changed = sets.New[id.ObjectID]()
	}
	return c.newTask(KindIncrementalPartial, def, valuationTime, vc, previous, changed)
}

// IncrementalCompileTaskFullResolve returns a task that reuses previous
// graphs and resolutions but re-expands every requirement.
func (c *ViewCompiler) IncrementalCompileTaskFullResolve(def *view.ViewDefinition, valuationTime time.Time, vc id.VersionCorrection, previous Previous) (*Task, error) {
	return c.newTask(KindIncrementalFull, def, valuationTime, vc, previous, nil)
}

// Compile runs a full compilation and waits for it.
func (c *ViewCompiler) Compile(ctx context.Context, def *view.ViewDefinition, valuationTime time.Time, vc id.VersionCorrection) (*CompiledViewDefinition, error) {
	task, err := c.FullCompileTask(def, valuationTime, vc)
	if err != nil {
		return nil, err
	}
	compiled, err := task.Get(ctx)
	if err != nil && ctx.Err() != nil {
		task.Cancel()
	}
	return compiled, err
}
