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

package resolution

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/joequant/OG-Platform/pkg/id"
	"github.com/joequant/OG-Platform/pkg/target"
)

// RecordingResolver records every successful resolution into a Map and
// answers later lookups of a recorded reference at the recorded id, so all
// builders of a compilation see the same version of a target. Concurrent
// lookups of one reference are collapsed.
type RecordingResolver struct {
	resolver target.Resolver
	m        *Map
	group    singleflight.Group
}

var _ target.Resolver = &RecordingResolver{}

// NewRecordingResolver wraps resolver, recording into m.
func NewRecordingResolver(resolver target.Resolver, m *Map) *RecordingResolver {
	return &RecordingResolver{resolver: resolver, m: m}
}

// Map returns the map resolutions are recorded into.
func (r *RecordingResolver) Map() *Map { return r.m }

func (r *RecordingResolver) pinned(ref target.Reference) target.Reference {
	if uid, ok := r.m.Get(ref); ok && uid != ref.UniqueID {
		return target.NewReference(ref.Type, uid)
	}
	return ref
}

// Resolve implements target.Resolver.
func (r *RecordingResolver) Resolve(ctx context.Context, ref target.Reference, vc id.VersionCorrection) (*target.Target, error) {
	result, err, _ := r.group.Do(ref.String(), func() (interface{}, error) {
		t, err := r.resolver.Resolve(ctx, r.pinned(ref), vc)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, target.NotFound(ref, vc)
		}
		r.m.PutIfAbsent(ref, t.UniqueID())
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*target.Target), nil
}

// ResolveSpecification implements target.Resolver. Recorded references are
// answered from the map.
func (r *RecordingResolver) ResolveSpecification(ctx context.Context, ref target.Reference, vc id.VersionCorrection) (target.Specification, error) {
	if uid, ok := r.m.Get(ref); ok {
		return target.Specification{Type: ref.Type, UniqueID: uid}, nil
	}
	spec, err := r.resolver.ResolveSpecification(ctx, ref, vc)
	if err != nil {
		return target.Specification{}, err
	}
	r.m.PutIfAbsent(ref, spec.UniqueID)
	return spec, nil
}
