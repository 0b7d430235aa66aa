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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer() (*TransactionalBuffer, *recordingDispatcher) {
	d := &recordingDispatcher{}
	return newTransactionalBuffer(NewMetrics()), d
}

func TestBufferRegisterThenCommitEmitsInOrder(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 100, "insert into t1 values (1)", newTestCallback(d, "A"))
	b.register(ctx, "TXN1", 101, "insert into t1 values (2)", newTestCallback(d, "B"))
	assert.False(t, b.isEmpty())

	b.commit(ctx, "TXN1", 102, 123456)
	require.NoError(t, b.waitForDrain(ctx, 102))

	require.Len(t, d.envelopes, 2)
	assert.Equal(t, "A", d.envelopes[0].Record)
	assert.Equal(t, "B", d.envelopes[1].Record)
	assert.Equal(t, 1, d.envelopes[0].Remaining)
	assert.Equal(t, 0, d.envelopes[1].Remaining)
	assert.True(t, b.isEmpty())
}

func TestBufferRollbackDropsBufferedRedo(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 100, "insert into t1 values (1)", newTestCallback(d, "A"))
	b.rollback(ctx, "TXN1")
	assert.True(t, b.isEmpty())

	b.commit(ctx, "TXN1", 105, 0)
	require.NoError(t, b.waitForDrain(ctx, 105))
	assert.Empty(t, d.envelopes)
}

func TestBufferRegisterDedupsSameScnSameSql(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	sql := "insert into t1 values (1)"
	b.register(ctx, "TXN1", 100, sql, newTestCallback(d, sql))
	b.register(ctx, "TXN1", 100, sql, newTestCallback(d, sql))

	b.commit(ctx, "TXN1", 101, 0)
	require.NoError(t, b.waitForDrain(ctx, 101))
	assert.Len(t, d.envelopes, 1)
}

func TestBufferCommitIsIdempotentBelowLastCommittedScn(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 100, "A", newTestCallback(d, "A"))
	b.commit(ctx, "TXN1", 200, 0)
	require.NoError(t, b.waitForDrain(ctx, 200))
	require.Len(t, d.envelopes, 1)

	// replay of the same commit after a restart must not re-emit.
	b.register(ctx, "TXN1", 100, "A", newTestCallback(d, "A"))
	b.commit(ctx, "TXN1", 150, 0)
	assert.Len(t, d.envelopes, 1)
}

func TestBufferSeedLastCommittedScnRejectsReplayAcrossRestart(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	// A fresh buffer, as a new process would construct after loading a
	// persisted offset whose CommitScn is 200.
	b.seedLastCommittedScn(200)

	b.register(ctx, "TXN1", 100, "A", newTestCallback(d, "A"))
	b.commit(ctx, "TXN1", 150, 0)
	assert.Empty(t, d.envelopes, "commit at or below the persisted CommitScn must not re-emit")

	b.register(ctx, "TXN2", 201, "B", newTestCallback(d, "B"))
	b.commit(ctx, "TXN2", 250, 0)
	require.NoError(t, b.waitForDrain(ctx, 250))
	assert.Len(t, d.envelopes, 1, "a genuinely new commit past the seeded scn still emits")
}

func TestBufferAbandonLongTransactionsBoundaryIsInclusive(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 1, "A", newTestCallback(d, "A"))
	abandoned := b.abandonLongTransactions(1)
	require.Len(t, abandoned, 1)
	assert.True(t, b.isEmpty())
	assert.Equal(t, NoSCN, b.largestScn)

	// register(A@1 would have been first) is dropped for the now-abandoned id.
	b.register(ctx, "TXN1", 2, "B", newTestCallback(d, "B"))
	assert.True(t, b.isEmpty())
}

func TestBufferAbandonLongTransactionsRetainsNewerTransaction(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 1, "A", newTestCallback(d, "A"))
	b.register(ctx, "TXN2", 10, "B", newTestCallback(d, "B"))

	abandoned := b.abandonLongTransactions(1)
	require.Len(t, abandoned, 1)
	assert.Equal(t, TxnID("TXN1"), abandoned[0])
	assert.False(t, b.isEmpty())
	assert.Equal(t, SCN(10), b.largestScn)
}

func TestBufferAbandonLongTransactionsDropsAndFastPaths(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 100, "A", newTestCallback(d, "A"))
	b.register(ctx, "TXN2", 500, "B", newTestCallback(d, "B"))

	abandoned := b.abandonLongTransactions(300)
	require.Len(t, abandoned, 1)
	assert.Equal(t, TxnID("TXN1"), abandoned[0])
	assert.True(t, b.isAbandoned("TXN1"))
	assert.False(t, b.isAbandoned("TXN2"))

	// a DML that arrives for an already-abandoned transaction is dropped,
	// so the subsequent commit finds no buffered transaction and is a
	// no-op: nothing is ever queued on the emission worker to wait for.
	b.register(ctx, "TXN1", 600, "C", newTestCallback(d, "C"))
	b.commit(ctx, "TXN1", 601, 0)
	assert.Empty(t, d.envelopes)
	assert.Equal(t, SCN(500), b.largestScn, "the dropped DML must not advance the watermark")
}

func TestBufferForgetStaleIDsForgetsAbandonedIds(t *testing.T) {
	b, _ := newTestBuffer()
	defer b.Stop()

	b.abandoned["TXN1"] = struct{}{}
	b.rebuildAbandonedFilter()
	require.True(t, b.isAbandoned("TXN1"))

	b.forgetStaleIDs()
	assert.False(t, b.isAbandoned("TXN1"))
}

func TestBufferResetLargestScnOverridesExplicitly(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXN1", 50, "A", newTestCallback(d, "A"))
	assert.Equal(t, SCN(50), b.largestScn)

	b.resetLargestScn(1000)
	assert.Equal(t, SCN(1000), b.largestScn)

	b.resetLargestScn(NoSCN)
	assert.Equal(t, NoSCN, b.largestScn)
}

// TestBufferCommitComputesSmallestScnAndRecomputesLargestScn registers
// two transactions and commits them in turn: the one committing first
// sees the firstScn of whichever other transaction is still open as its
// smallestScn; the one committing last, with nothing else live, sees
// none. largestScn is recomputed over the live set on each removal
// rather than held as a running maximum.
func TestBufferCommitComputesSmallestScnAndRecomputesLargestScn(t *testing.T) {
	b, d := newTestBuffer()
	defer b.Stop()
	ctx := context.Background()

	b.register(ctx, "TXNA", 1, "A", newTestCallback(d, "A"))
	b.register(ctx, "TXNB", 10, "B", newTestCallback(d, "B"))
	assert.Equal(t, SCN(10), b.largestScn)

	b.commit(ctx, "TXNA", 11, 0)
	require.NoError(t, b.waitForDrain(ctx, 11))
	require.Len(t, d.envelopes, 1)
	assert.True(t, d.envelopes[0].HasSmallest)
	assert.Equal(t, SCN(10), d.envelopes[0].SmallestScn)
	// TXNB is still live; its lastScn (10) is the only live lastScn left.
	assert.Equal(t, SCN(10), b.largestScn)

	b.commit(ctx, "TXNB", 12, 0)
	require.NoError(t, b.waitForDrain(ctx, 12))
	require.Len(t, d.envelopes, 2)
	assert.False(t, d.envelopes[1].HasSmallest)
	assert.Equal(t, SCN(0), b.largestScn)
	assert.Equal(t, SCN(12), b.lastCommittedScn)
}

func TestBufferWaitForDrainTimesOutWhenDispatchBlocks(t *testing.T) {
	b := newTransactionalBuffer(NewMetrics())
	defer b.Stop()
	ctx := context.Background()

	blockC := make(chan struct{})
	d := &blockingDispatcher{unblock: blockC}
	b.register(ctx, "TXN1", 1, "A", CommitCallback{Parser: passthroughParser{}, Schema: allowAllSchema{}, Dispatcher: d, SQLRedo: "A"})
	b.commit(ctx, "TXN1", 2, 0)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.waitForDrain(waitCtx, 2)
	assert.Error(t, err)
	close(blockC)
}

type blockingDispatcher struct {
	unblock chan struct{}
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, _ any) error {
	select {
	case <-d.unblock:
	case <-ctx.Done():
	}
	return nil
}
