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

import "context"

// RedoFile describes one online or archived redo log as reported by
// MiningSession.ListOnlineLogs/ListArchivedLogs.
type RedoFile struct {
	Name        string
	FirstChange SCN
	// NextChange equal to the database's current max-SCN sentinel marks
	// the current online redo file (open-ended).
	NextChange SCN
}

// IsCurrent reports whether f is the actively-written online redo file.
func (f RedoFile) IsCurrent() bool {
	return f.NextChange.IsOpenEnded()
}

// RowKind tags a MiningRow's payload.
type RowKind int

const (
	RowDML RowKind = iota
	RowCommit
	RowRollback
)

// MiningRow is one row returned by MiningSession.Fetch, already
// classified by the session into DML, COMMIT, or ROLLBACK.
type MiningRow struct {
	Kind RowKind

	TxnID TxnID
	SCN   SCN

	// Dml fields.
	SQLRedo    string
	ChangeTime int64 // unix millis, database-clock

	// Commit fields.
	CommitTimestamp int64 // unix millis, database-clock
}

// MiningSession is the out-of-scope collaborator that owns the database
// connection, session/NLS setup, supplemental-logging checks, and the
// actual LogMiner cursor. The mining loop drives it; it never appears on
// the hot data path of the buffer itself.
type MiningSession interface {
	CurrentSCN(ctx context.Context) (SCN, error)
	OldestOnlineFirstChange(ctx context.Context) (SCN, error)
	ListOnlineLogs(ctx context.Context) ([]RedoFile, error)
	ListArchivedLogs(ctx context.Context, retention SCN) ([]RedoFile, error)

	RegisterFile(ctx context.Context, file RedoFile) error
	DeregisterFile(ctx context.Context, file RedoFile) error

	BeginMining(ctx context.Context, start, end SCN, strategy MiningStrategy, continuous bool) error
	EndMining(ctx context.Context) error

	// Fetch streams rows in the inclusive window [start, end] in SCN
	// order. The returned RowIterator yields rows one at a time; Next
	// reports false once exhausted and a non-nil error on failure.
	Fetch(ctx context.Context, start, end SCN) (RowIterator, error)
}

// RowIterator is a pull-based cursor over MiningRow, mirroring the
// streaming fetch shape a database/sql-style driver would expose instead
// of materializing the whole window in memory (spec §4.4: "fetch size
// ~10 000", i.e. the session paginates internally).
type RowIterator interface {
	Next(ctx context.Context) (MiningRow, bool, error)
	Close() error
}

// SchemaProvider resolves a table reference out of the schema catalog,
// used to decide whether a row's table is monitored and to hand the
// parser enough context to produce a structured change record.
type SchemaProvider interface {
	IsMonitored(schema, table string) bool
}

// DmlParser turns a redo SQL statement plus schema context into a
// structured change record and hands it to a Dispatcher. Out of scope
// for this module beyond the interface: a real implementation parses
// Oracle's SQL_REDO text.
type DmlParser interface {
	Parse(ctx context.Context, schema SchemaProvider, sqlRedo string) (any, error)
}

// Dispatcher accepts a parsed change record for delivery downstream. It
// may block on backpressure and may return an error, which the emission
// worker surfaces to the error handler per spec §7.4.
type Dispatcher interface {
	Dispatch(ctx context.Context, record any) error
}

// PeerFlusher flushes peer log-writers in a cluster deployment. The
// mining loop calls it on every Connect, before trusting what the
// session reports next. Per spec
// §9's open question, the reference implementation's fixed 3-second
// sleep is replaced here by a bounded-retry contract; DefaultPeerFlusher
// is the concrete bounded-backoff implementation.
type PeerFlusher interface {
	FlushPeers(ctx context.Context) error
}
