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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	envelopes []CommitEnvelope
	err       error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, record any) error {
	if d.err != nil {
		return d.err
	}
	d.envelopes = append(d.envelopes, record.(CommitEnvelope))
	return nil
}

type passthroughParser struct{}

func (passthroughParser) Parse(_ context.Context, _ SchemaProvider, sqlRedo string) (any, error) {
	return sqlRedo, nil
}

type allowAllSchema struct{}

func (allowAllSchema) IsMonitored(string, string) bool { return true }

func newTestCallback(d *recordingDispatcher, sql string) CommitCallback {
	return CommitCallback{
		Parser:     passthroughParser{},
		Schema:     allowAllSchema{},
		Dispatcher: d,
		SQLRedo:    sql,
	}
}

func TestTransactionAddRedoSqlAdvancesLastScn(t *testing.T) {
	txn := newTransaction("TXN1", 100, 4, 0.5)
	assert.Equal(t, SCN(100), txn.firstScn)
	assert.Equal(t, SCN(100), txn.lastScn)

	d := &recordingDispatcher{}
	txn.addRedoSql(105, "insert into t1 values (1)", newTestCallback(d, "insert into t1 values (1)"))
	assert.Equal(t, SCN(100), txn.firstScn)
	assert.Equal(t, SCN(105), txn.lastScn)
	assert.Len(t, txn.callbacks, 1)
}

func TestTransactionAddRedoSqlRegressionPanics(t *testing.T) {
	txn := newTransaction("TXN1", 100, 4, 0.5)
	d := &recordingDispatcher{}
	assert.Panics(t, func() {
		txn.addRedoSql(50, "insert into t1 values (1)", newTestCallback(d, "x"))
	})
}

func TestTransactionHasExactRedoDedup(t *testing.T) {
	txn := newTransaction("TXN1", 100, 4, 0.5)
	d := &recordingDispatcher{}
	sql := "insert into t1 values (1)"
	txn.addRedoSql(100, sql, newTestCallback(d, sql))

	assert.True(t, txn.hasExactRedo(100, sql))
	assert.False(t, txn.hasExactRedo(100, "insert into t1 values (2)"))
	assert.False(t, txn.hasExactRedo(101, sql))
}

func TestTransactionDumpIncludesBufferedRedo(t *testing.T) {
	txn := newTransaction("TXN1", 100, 4, 0.5)
	d := &recordingDispatcher{}
	txn.addRedoSql(100, "insert into t1 values (1)", newTestCallback(d, "insert into t1 values (1)"))
	txn.addRedoSql(102, "update t1 set c=2", newTestCallback(d, "update t1 set c=2"))

	dump := txn.dump()
	assert.Contains(t, dump, "TXN1")
	assert.Contains(t, dump, "insert into t1 values (1)")
	assert.Contains(t, dump, "update t1 set c=2")
}

func TestCommitCallbackInvokeDispatchesEnvelope(t *testing.T) {
	d := &recordingDispatcher{}
	cb := newTestCallback(d, "insert into t1 values (1)")

	err := cb.Invoke(context.Background(), 1000, SCN(50), true, SCN(200), 2)
	require.NoError(t, err)
	require.Len(t, d.envelopes, 1)

	env := d.envelopes[0]
	assert.Equal(t, "insert into t1 values (1)", env.Record)
	assert.Equal(t, int64(1000), env.Timestamp)
	assert.Equal(t, SCN(50), env.SmallestScn)
	assert.True(t, env.HasSmallest)
	assert.Equal(t, SCN(200), env.CommitScn)
	assert.Equal(t, 2, env.Remaining)
}

func TestCommitCallbackInvokePropagatesDispatchError(t *testing.T) {
	wantErr := errors.New("downstream unavailable")
	d := &recordingDispatcher{err: wantErr}
	cb := newTestCallback(d, "insert into t1 values (1)")

	err := cb.Invoke(context.Background(), 0, NoSCN, false, SCN(1), 0)
	assert.ErrorIs(t, err, wantErr)
}
