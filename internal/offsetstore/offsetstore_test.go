// Copyright 2025 BINARY Members
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

package offsetstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.bin")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.bin")
	s, err := Open(path)
	require.NoError(t, err)

	want := Record{Scn: 12345, CommitScn: 12300, SnapshotCompleted: true}
	require.NoError(t, s.Save(want))

	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSaveOverwritesPreviousRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.bin")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(Record{Scn: 1, CommitScn: 1}))
	require.NoError(t, s.Save(Record{Scn: 2, CommitScn: 2, SnapshotCompleted: true}))

	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{Scn: 2, CommitScn: 2, SnapshotCompleted: true}, got)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.bin")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{Scn: 1, CommitScn: 1}))

	// simulate corruption by writing a short record directly.
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, _, err = s.Load()
	assert.Error(t, err)
}
