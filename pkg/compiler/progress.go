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
	"sync"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/joequant/OG-Platform/pkg/depgraph"
	"github.com/joequant/OG-Platform/pkg/features"
)

// watchProgress polls builder estimates every ProgressInterval until each
// builder is finished, cancelled or dropped by the observer. The returned
// func stops the watcher and waits for it to exit.
func (t *Task) watchProgress(ctx context.Context) (stop func()) {
	observer := t.c.observer
	if observer == nil {
		if !t.c.gate.Enabled(features.CompilationProgressLogging) {
			return func() {}
		}
		observer = t.logProgress
	}

	watchCtx, cancel := context.WithCancel(ctx)
	remaining := append([]*depgraph.Builder(nil), t.builders...)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wait.UntilWithContext(watchCtx, func(context.Context) {
			next := remaining[:0]
			for _, b := range remaining {
				estimate := b.BuildFractionEstimate()
				if !observer(b.CalculationConfigurationName(), estimate) {
					continue
				}
				if estimate >= 1 || b.IsCancelled() {
					continue
				}
				next = append(next, b)
			}
			remaining = next
			if len(remaining) == 0 {
				cancel()
			}
		}, t.c.config.ProgressInterval)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (t *Task) logProgress(config string, estimate float64) bool {
	t.log.Info("building dependency graph", "configuration", config, "estimate", estimate)
	return true
}
