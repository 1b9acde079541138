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

package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/joequant/OG-Platform/pkg/id"
)

// ErrNotFound is returned by a Resolver when a reference cannot be mapped to
// a target at the requested version-correction.
var ErrNotFound = errors.New("target not found")

// NotFound wraps ErrNotFound with the reference that failed.
func NotFound(ref Reference, vc id.VersionCorrection) error {
	return fmt.Errorf("%w: %s at %s", ErrNotFound, ref, vc)
}

// IsNotFound reports whether err (or any error in its chain) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Resolver maps target references to concrete targets. Implementations must
// be safe for concurrent use. Any error other than ErrNotFound is treated as
// an infrastructure failure.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference, vc id.VersionCorrection) (*Target, error)
	ResolveSpecification(ctx context.Context, ref Reference, vc id.VersionCorrection) (Specification, error)
}
