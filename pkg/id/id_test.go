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

package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUniqueID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    UniqueID
		wantErr bool
	}{
		{name: "unversioned", input: "DbPos~123", want: UniqueID{Scheme: "DbPos", Value: "123"}},
		{name: "versioned", input: "DbPos~123~7", want: UniqueID{Scheme: "DbPos", Value: "123", Version: "7"}},
		{name: "missing value", input: "DbPos~", wantErr: true},
		{name: "no separator", input: "DbPos", wantErr: true},
		{name: "too many parts", input: "a~b~c~d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUniqueID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestUniqueIDObjectID(t *testing.T) {
	uid := UniqueID{Scheme: "DbPos", Value: "1", Version: "3"}
	assert.Equal(t, ObjectID{Scheme: "DbPos", Value: "1"}, uid.ObjectID())
	assert.True(t, uid.IsVersioned())
	assert.Equal(t, uid, uid.ObjectID().AtVersion("3"))
	assert.True(t, UniqueID{}.IsZero())
}

func TestVersionCorrection(t *testing.T) {
	assert.True(t, Latest.ContainsLatest())
	assert.Equal(t, "VLATEST.CLATEST", Latest.String())

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	vc := At(ts, ts)
	assert.False(t, vc.ContainsLatest())
	assert.True(t, vc.Equal(At(ts.In(time.FixedZone("x", 3600)), ts)))
	assert.Equal(t, "V2024-03-01T12:00:00Z.C2024-03-01T12:00:00Z", vc.String())
}
