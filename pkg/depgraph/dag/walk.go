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

package dag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrDependencyFailed is recorded for vertices skipped because a vertex they
// depend on failed.
var ErrDependencyFailed = errors.New("dependency failed")

// VertexFunc is called once per vertex.
type VertexFunc[T cmp.Ordered] func(ctx context.Context, vertexID T) error

// WalkOptions configures Walk.
type WalkOptions struct {
	// Parallelism caps concurrent calls. Values <= 0 select runtime.NumCPU().
	Parallelism int
	// StopOnError cancels the walk on the first failure. Otherwise
	// independent vertices keep running.
	StopOnError bool
	// Reverse visits dependents before their dependencies.
	Reverse bool
}

// Walk calls fn for every vertex, a vertex only after all of its
// dependencies (or, in reverse, all of its dependents) succeeded. It returns
// the errors by vertex; vertices below a failure carry ErrDependencyFailed.
func Walk[T cmp.Ordered](ctx context.Context, d *DirectedAcyclicGraph[T], fn VertexFunc[T], opts WalkOptions) map[T]error {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	errs := make(map[T]error)
	if len(d.Vertices) == 0 {
		return errs
	}

	pending := make(map[T]*atomic.Int32, len(d.Vertices))
	next := make(map[T][]T, len(d.Vertices))
	for id := range d.Vertices {
		pending[id] = &atomic.Int32{}
	}
	for id, v := range d.Vertices {
		for dep := range v.DependsOn {
			if opts.Reverse {
				pending[dep].Add(1)
				next[id] = append(next[id], dep)
			} else {
				pending[id].Add(1)
				next[dep] = append(next[dep], id)
			}
		}
	}

	// Every vertex is queued at most once, so sends never block.
	ready := make(chan T, len(d.Vertices))
	for _, v := range d.sortedVertices() {
		if pending[v.ID].Load() == 0 {
			ready <- v.ID
		}
	}

	var (
		mu        sync.Mutex
		finished  = make(map[T]bool, len(d.Vertices))
		closeOnce sync.Once
	)
	finish := func(id T, err error) {
		// caller holds mu
		finished[id] = true
		if err != nil {
			errs[id] = err
		}
		if len(finished) == len(d.Vertices) {
			closeOnce.Do(func() { close(ready) })
		}
	}
	var skip func(id, failed T)
	skip = func(id, failed T) {
		if finished[id] {
			return
		}
		finish(id, fmt.Errorf("%w: %v", ErrDependencyFailed, failed))
		for _, n := range next[id] {
			skip(n, failed)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(opts.Parallelism))
	for i := 0; i < opts.Parallelism; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case id, ok := <-ready:
					if !ok {
						return nil
					}
					if err := sem.Acquire(gctx, 1); err != nil {
						return err
					}
					err := fn(gctx, id)
					sem.Release(1)

					mu.Lock()
					finish(id, err)
					if err != nil {
						for _, n := range next[id] {
							skip(n, id)
						}
						mu.Unlock()
						if opts.StopOnError {
							return err
						}
						continue
					}
					mu.Unlock()

					for _, n := range next[id] {
						if pending[n].Add(-1) == 0 {
							ready <- n
						}
					}
				}
			}
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return errs
}
