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
	"errors"
	"sort"
	"sync"

	"github.com/joequant/OG-Platform/pkg/value"
)

var (
	// ErrUnresolvedTarget marks a requirement whose target could not be
	// resolved.
	ErrUnresolvedTarget = errors.New("unresolved target")
	// ErrNoApplicableFunction marks a requirement no function can produce.
	ErrNoApplicableFunction = errors.New("no applicable function")
	// ErrCircularRequirement marks a requirement that depends on itself.
	ErrCircularRequirement = errors.New("circular requirement")
	// ErrUnsatisfiedInput marks a requirement whose candidates all had an
	// input that could not be satisfied.
	ErrUnsatisfiedInput = errors.New("unsatisfied input")
	// ErrCancelled is returned by DependencyGraph after Cancel.
	ErrCancelled = errors.New("graph building cancelled")
	// ErrAlreadyStarted is returned by SetDependencyGraph once targets have
	// been added.
	ErrAlreadyStarted = errors.New("dependency graph already has targets")
)

// Failure is a distinct resolution failure and how often it occurred.
type Failure struct {
	Message string
	Cause   error
	// Requirement is the first requirement that hit the failure.
	Requirement value.Requirement
	Count       int
}

type failureLog struct {
	mu      sync.Mutex
	byMsg   map[string]*Failure
	ordered []*Failure
}

func newFailureLog() *failureLog {
	return &failureLog{byMsg: make(map[string]*Failure)}
}

func (l *failureLog) record(req value.Requirement, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := err.Error()
	if f, ok := l.byMsg[msg]; ok {
		f.Count++
		return
	}
	f := &Failure{Message: msg, Cause: err, Requirement: req, Count: 1}
	l.byMsg[msg] = f
	l.ordered = append(l.ordered, f)
}

// snapshot returns the failures by count, most frequent first.
func (l *failureLog) snapshot() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Failure, len(l.ordered))
	for i, f := range l.ordered {
		out[i] = *f
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// TotalFailures sums the occurrence counts.
func TotalFailures(failures []Failure) int {
	n := 0
	for _, f := range failures {
		n += f.Count
	}
	return n
}
