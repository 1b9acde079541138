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

// Package id defines the identifiers used to address versioned master data:
// unique ids, object ids, external ids and version-corrections.
package id

import (
	"fmt"
	"strings"
	"time"
)

const separator = "~"

// ObjectID identifies an object independently of its version.
type ObjectID struct {
	Scheme string
	Value  string
}

// String returns the "scheme~value" form of the object id.
func (o ObjectID) String() string { return o.Scheme + separator + o.Value }

// IsZero reports whether the object id is unset.
func (o ObjectID) IsZero() bool { return o.Scheme == "" && o.Value == "" }

// AtVersion returns the unique id of a specific version of the object.
func (o ObjectID) AtVersion(version string) UniqueID {
	return UniqueID{Scheme: o.Scheme, Value: o.Value, Version: version}
}

// UniqueID identifies one version of an object. It is comparable and is
// used directly as a map key.
type UniqueID struct {
	Scheme  string
	Value   string
	Version string
}

// Of builds an unversioned unique id.
func Of(scheme, value string) UniqueID {
	return UniqueID{Scheme: scheme, Value: value}
}

// ObjectID strips the version.
func (u UniqueID) ObjectID() ObjectID { return ObjectID{Scheme: u.Scheme, Value: u.Value} }

// IsZero reports whether the unique id is unset.
func (u UniqueID) IsZero() bool { return u == UniqueID{} }

// IsVersioned reports whether the id names a specific version.
func (u UniqueID) IsVersioned() bool { return u.Version != "" }

func (u UniqueID) String() string {
	if u.Version == "" {
		return u.Scheme + separator + u.Value
	}
	return u.Scheme + separator + u.Value + separator + u.Version
}

// ParseUniqueID parses the "scheme~value[~version]" form.
func ParseUniqueID(s string) (UniqueID, error) {
	parts := strings.Split(s, separator)
	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return UniqueID{Scheme: parts[0], Value: parts[1]}, nil
	case len(parts) == 3 && parts[0] != "" && parts[1] != "":
		return UniqueID{Scheme: parts[0], Value: parts[1], Version: parts[2]}, nil
	default:
		return UniqueID{}, fmt.Errorf("invalid unique id %q: expected scheme~value[~version]", s)
	}
}

// ExternalID is an identifier issued by an external system, such as a
// ticker or an ISIN.
type ExternalID struct {
	Scheme string
	Value  string
}

// External builds an external id.
func External(scheme, value string) ExternalID {
	return ExternalID{Scheme: scheme, Value: value}
}

// IsZero reports whether the external id is unset.
func (e ExternalID) IsZero() bool { return e == ExternalID{} }

func (e ExternalID) String() string { return e.Scheme + separator + e.Value }

// VersionCorrection fixes which version of master data is visible. A zero
// instant means "latest".
type VersionCorrection struct {
	VersionAsOf time.Time
	CorrectedTo time.Time
}

// Latest is the version-correction that always sees the newest data.
var Latest = VersionCorrection{}

// At returns a version-correction with both instants fixed.
func At(versionAsOf, correctedTo time.Time) VersionCorrection {
	return VersionCorrection{VersionAsOf: versionAsOf.UTC(), CorrectedTo: correctedTo.UTC()}
}

// ContainsLatest reports whether either instant floats to the latest data.
// Resolutions made under such a version-correction are not stable over time.
func (vc VersionCorrection) ContainsLatest() bool {
	return vc.VersionAsOf.IsZero() || vc.CorrectedTo.IsZero()
}

// Equal compares both instants.
func (vc VersionCorrection) Equal(other VersionCorrection) bool {
	return vc.VersionAsOf.Equal(other.VersionAsOf) && vc.CorrectedTo.Equal(other.CorrectedTo)
}

func (vc VersionCorrection) String() string {
	return "V" + instant(vc.VersionAsOf) + ".C" + instant(vc.CorrectedTo)
}

func instant(t time.Time) string {
	if t.IsZero() {
		return "LATEST"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
