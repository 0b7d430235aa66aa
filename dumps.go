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

package logminer

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileDumpSink writes abandoned-transaction dumps as s2-compressed
// files under a directory, one file per abandonment, named so an
// operator can correlate a dump with the warning log line that
// mentioned it.
type FileDumpSink struct {
	dir string
}

// NewFileDumpSink returns a FileDumpSink rooted at dir. The directory
// is created if it does not exist.
func NewFileDumpSink(dir string) (*FileDumpSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	return &FileDumpSink{dir: dir}, nil
}

func (s *FileDumpSink) WriteDump(id TxnID, scn SCN, compressed []byte) error {
	name := fmt.Sprintf("%s-%s.dump.s2", id, scn)
	return os.WriteFile(filepath.Join(s.dir, name), compressed, 0o644)
}

var _ DumpSink = (*FileDumpSink)(nil)
