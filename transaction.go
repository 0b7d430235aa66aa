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
	"context"
	"fmt"

	"github.com/oracdc/logminer/pkg/bufferpool"
	"github.com/oracdc/logminer/pkg/skiplist"
)

// CommitEnvelope carries everything a CommitCallback needs at emission
// time beyond the parsed record itself.
type CommitEnvelope struct {
	Record      any
	Timestamp   int64
	SmallestScn SCN
	HasSmallest bool
	CommitScn   SCN
	// Remaining counts down from len(callbacks)-1 to 0; zero marks the
	// last callback of the committing transaction.
	Remaining int
}

// CommitCallback holds read-only references to the parser/schema/
// dispatcher plus the per-DML redo text, rather than an opaque closure,
// so the buffer's emission worker can move a slice of these between
// goroutines cheaply.
type CommitCallback struct {
	Parser     DmlParser
	Schema     SchemaProvider
	Dispatcher Dispatcher
	SQLRedo    string
}

// Invoke parses the stored redo SQL and dispatches it wrapped in a
// CommitEnvelope carrying the commit-time watermark context.
func (c CommitCallback) Invoke(ctx context.Context, timestamp int64, smallestScn SCN, hasSmallest bool, commitScn SCN, remaining int) error {
	record, err := c.Parser.Parse(ctx, c.Schema, c.SQLRedo)
	if err != nil {
		return fmt.Errorf("parse redo sql: %w", err)
	}
	return c.Dispatcher.Dispatch(ctx, CommitEnvelope{
		Record:      record,
		Timestamp:   timestamp,
		SmallestScn: smallestScn,
		HasSmallest: hasSmallest,
		CommitScn:   commitScn,
		Remaining:   remaining,
	})
}

// Transaction is the mutable, in-flight record of one database
// transaction's observed DMLs, owned exclusively by the buffer's single
// writer (the mining thread).
type Transaction struct {
	id TxnID

	// firstScn is immutable after creation.
	firstScn SCN
	// lastScn is monotone non-decreasing; updated by addRedoSql.
	lastScn SCN

	// callbacks preserves mining (insertion) order; drained in that
	// order on commit.
	callbacks []CommitCallback

	// redoByScn maps SCN to the ordered redo SQL strings recorded at
	// that SCN, used for de-duplication (register's dedup rule) and
	// debug dumps. Backed by a skiplist so dumps walk it in SCN order
	// without a separate sort.
	redoByScn *skiplist.SkipList
}

func newTransaction(id TxnID, scn SCN, maxLevel int, p float64) *Transaction {
	return &Transaction{
		id:        id,
		firstScn:  scn,
		lastScn:   scn,
		redoByScn: skiplist.New(maxLevel, p),
	}
}

// hasExactRedo reports whether sql was already recorded at scn, for the
// register de-dup rule: only a same-SCN, same-text repeat is dropped.
func (t *Transaction) hasExactRedo(scn SCN, sql string) bool {
	vals, ok := t.redoByScn.Get(uint64(scn))
	if !ok {
		return false
	}
	for _, v := range vals {
		if v == sql {
			return true
		}
	}
	return false
}

// addRedoSql appends sql to the statements recorded at scn, records a
// callback for it, and advances lastScn. Precondition (spec §4.2): scn
// must not regress within a transaction.
func (t *Transaction) addRedoSql(scn SCN, sql string, cb CommitCallback) {
	if scn < t.lastScn {
		panic("addRedoSql: scn must not regress within a transaction")
	}
	t.redoByScn.Append(uint64(scn), sql)
	t.lastScn = scn
	t.callbacks = append(t.callbacks, cb)
}

// dump renders the transaction's buffered redo in SCN order, for the
// debug/warning path on abandonment. Uses the shared buffer pool to
// avoid an allocation per abandoned transaction.
func (t *Transaction) dump() string {
	buf := bufferpool.Pool.Get()
	defer bufferpool.Pool.Put(buf)

	fmt.Fprintf(buf, "txn=%s first=%s last=%s", t.id, t.firstScn, t.lastScn)
	for _, kv := range t.redoByScn.All() {
		for _, sql := range kv.Vals {
			fmt.Fprintf(buf, "\n  [%d] %s", kv.Key, sql)
		}
	}
	return buf.String()
}
