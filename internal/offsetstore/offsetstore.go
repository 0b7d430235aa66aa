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

// Package offsetstore persists the mining loop's resume offset to a
// single file, fsyncing every write so a crash never loses a durably
// reported offset. A write truncates and rewrites the one record in
// place; one small fixed-size record never needs the segment rotation
// a write-ahead log would use.
package offsetstore

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Record is the on-disk shape of an offset. It mirrors logminer.Offset
// but is declared independently so this package has no import-cycle
// dependency on the root package.
type Record struct {
	Scn               uint64
	CommitScn         uint64
	SnapshotCompleted bool
}

const _recordSize = 8 + 8 + 1 // Scn + CommitScn + SnapshotCompleted

// Store is a durable single-record offset file.
type Store struct {
	path string
}

// Open returns a Store backed by path. The file is created empty if it
// does not yet exist; Open does not read it.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open offset file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close offset file after create: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the persisted record. ok is false if the file is empty
// (never written), which is not an error.
func (s *Store) Load() (rec Record, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, false, fmt.Errorf("read offset file: %w", err)
	}
	if len(data) == 0 {
		return Record{}, false, nil
	}
	if len(data) != _recordSize {
		return Record{}, false, fmt.Errorf("offset file %s has %d bytes, want %d", s.path, len(data), _recordSize)
	}
	rec.Scn = binary.BigEndian.Uint64(data[0:8])
	rec.CommitScn = binary.BigEndian.Uint64(data[8:16])
	rec.SnapshotCompleted = data[16] != 0
	return rec, true, nil
}

// Save overwrites the persisted record and fsyncs before returning, so
// a crash immediately after Save never observes a torn or stale write.
func (s *Store) Save(rec Record) error {
	buf := make([]byte, _recordSize)
	binary.BigEndian.PutUint64(buf[0:8], rec.Scn)
	binary.BigEndian.PutUint64(buf[8:16], rec.CommitScn)
	if rec.SnapshotCompleted {
		buf[16] = 1
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open offset file for write: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write offset file: %w", err)
	}
	return f.Sync()
}
