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
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oracdc/logminer/pkg/bufferpool"
	"github.com/oracdc/logminer/pkg/filter"
	"github.com/oracdc/logminer/pkg/logger"
	"github.com/oracdc/logminer/pkg/utils"
	"github.com/oracdc/logminer/pkg/watermark"
)

const _defaultEmitQueueSize = 1024

// TransactionalBuffer holds every in-flight transaction's buffered redo
// between a DML's capture and its transaction's commit or rollback. It
// is mutated by exactly one goroutine (the mining loop); a single
// dedicated emission worker drains completed commits off emitC so that
// dispatch I/O never blocks the mining thread.
type TransactionalBuffer struct {
	metrics *Metrics

	transactions map[TxnID]*Transaction
	rolledBack   map[TxnID]struct{}

	// abandoned holds transactions dropped by abandonLongTransactions.
	// abandonedFilter fronts it with a bloom filter so a register call
	// for an ordinary, non-abandoned transaction never has to touch the
	// map: a negative from the filter is authoritative.
	abandoned       map[TxnID]struct{}
	abandonedFilter *filter.Filter

	// largestScn is the highest lastScn among the live transactions (zero
	// when none); it is recomputed on every removal, so it can go down.
	largestScn SCN
	// lastCommittedScn is the highest commitScn handed to the emission
	// worker (set when the commit is queued); a commit at or below it is
	// a duplicate (e.g. replayed after a
	// transient-fault restart from a slightly older offset) and is
	// dropped rather than re-dispatched.
	lastCommittedScn SCN

	// emitMark tracks drain completion by commitScn: Begin when a commit
	// is queued on emitC, Done once every callback for it has run.
	emitMark *watermark.WaterMark

	emitC  chan emissionJob
	stopC  chan struct{}
	wg     sync.WaitGroup
	stopMu sync.Once

	pendingEmissions atomic.Int64

	// emitErrC carries the first classified error from a failed
	// dispatch to the mining loop; buffered 1, never overwritten once
	// set so the loop sees the earliest fault.
	emitErrC chan error

	// dumpSink, when set, receives a compressed dump of every abandoned
	// transaction's buffered redo.
	dumpSink DumpSink
}

type emissionJob struct {
	txnID           TxnID
	callbacks       []CommitCallback
	commitScn       SCN
	commitTimestamp int64
	smallestScn     SCN
	hasSmallest     bool
}

func newTransactionalBuffer(metrics *Metrics) *TransactionalBuffer {
	return newTransactionalBufferSized(metrics, _defaultEmitQueueSize)
}

func newTransactionalBufferSized(metrics *Metrics, queueSize int) *TransactionalBuffer {
	if queueSize <= 0 {
		queueSize = _defaultEmitQueueSize
	}
	b := &TransactionalBuffer{
		metrics:         metrics,
		transactions:    make(map[TxnID]*Transaction),
		rolledBack:      make(map[TxnID]struct{}),
		abandoned:       make(map[TxnID]struct{}),
		abandonedFilter: filter.New(1, 0.01),
		emitMark:        watermark.New(),
		emitC:           make(chan emissionJob, queueSize),
		stopC:           make(chan struct{}),
		emitErrC:        make(chan error, 1),
	}
	b.wg.Add(1)
	go b.runEmissionWorker()
	return b
}

// Stop lets the emission worker finish every commit already queued, then
// stops the worker and the watermark. Callers must ensure commit/register are no longer
// being called before calling Stop.
func (b *TransactionalBuffer) Stop() {
	b.stopMu.Do(func() {
		close(b.stopC)
	})
	b.wg.Wait()
	b.emitMark.Stop()
}

// isEmpty reports whether the buffer holds no in-flight transactions and
// no commit has an emission still queued or running on the worker.
func (b *TransactionalBuffer) isEmpty() bool {
	return len(b.transactions) == 0 && b.pendingEmissions.Load() == 0
}

// isAbandoned reports whether id was previously dropped by
// abandonLongTransactions. The bloom filter makes a negative answer
// cheap; a positive is confirmed against the exact set since the filter
// may false-positive.
func (b *TransactionalBuffer) isAbandoned(id TxnID) bool {
	if !b.abandonedFilter.Contains(string(id)) {
		return false
	}
	_, ok := b.abandoned[id]
	return ok
}

// register buffers one DML row for id at scn, creating the transaction
// record if this is its first row. Rows for an abandoned transaction
// are dropped with a warning (spec's dedup/abandon rule): the
// transaction is gone and will never commit or roll back again in this
// mining window. A byte-identical repeat of the same SQL at the same
// SCN is dropped too, since LogMiner can re-surface a row across a
// log-file boundary.
func (b *TransactionalBuffer) register(_ context.Context, id TxnID, scn SCN, sql string, cb CommitCallback) {
	if b.isAbandoned(id) {
		logger.GetLogger().Warnf("dropping redo for abandoned transaction %s at scn=%s", id, scn)
		return
	}

	txn, ok := b.transactions[id]
	if !ok {
		txn = newTransaction(id, scn, 16, 0.5)
		b.transactions[id] = txn
		b.metrics.incActiveTransactions()
	}
	if txn.hasExactRedo(scn, sql) {
		return
	}
	txn.addRedoSql(scn, sql, cb)
	b.largestScn = Max(b.largestScn, scn)
	b.metrics.incCapturedDML()
}

// commit emits every buffered callback of id in capture order and
// retires the transaction. A commit at or below lastCommittedScn is a
// duplicate of one already emitted and is dropped; a commit for a
// transaction with no buffered rows (e.g. a DDL-only or filtered-out
// transaction) is ignored: nothing is counted and nothing is emitted.
// Each callback is
// handed the smallest firstScn among the OTHER transactions still live
// at commit time (absent if none), so a downstream consumer knows the
// oldest SCN that could still be emitted after this commit.
func (b *TransactionalBuffer) commit(_ context.Context, id TxnID, commitScn SCN, commitTimestamp int64) {
	// Spec's guard is a strict ">"; this treats an exact repeat of
	// lastCommittedScn as a duplicate too, since commitScn strictly
	// increases within a session and an equal value only arises from a
	// replay, never a new commit.
	if commitScn.Compare(b.lastCommittedScn) <= 0 && b.lastCommittedScn != NoSCN {
		b.metrics.incDuplicateEmissions()
		delete(b.transactions, id)
		b.recomputeLargestScn()
		return
	}

	txn, ok := b.transactions[id]
	if !ok {
		return
	}

	var smallestScn SCN
	hasSmallest := false
	for otherID, other := range b.transactions {
		if otherID == id {
			continue
		}
		if !hasSmallest || other.firstScn.Compare(smallestScn) < 0 {
			smallestScn = other.firstScn
			hasSmallest = true
		}
	}

	delete(b.transactions, id)
	b.recomputeLargestScn()
	b.metrics.decActiveTransactions()
	b.metrics.incCommittedTransactions()
	b.lastCommittedScn = commitScn

	if len(txn.callbacks) == 0 {
		return
	}

	b.emitMark.Begin(uint64(commitScn))
	b.pendingEmissions.Add(1)
	b.emitC <- emissionJob{
		txnID:           id,
		callbacks:       txn.callbacks,
		commitScn:       commitScn,
		commitTimestamp: commitTimestamp,
		smallestScn:     smallestScn,
		hasSmallest:     hasSmallest,
	}
}

// rollback discards id's buffered redo without emitting anything.
func (b *TransactionalBuffer) rollback(_ context.Context, id TxnID) {
	if _, ok := b.transactions[id]; !ok {
		return
	}
	delete(b.transactions, id)
	b.rolledBack[id] = struct{}{}
	b.recomputeLargestScn()
	b.metrics.decActiveTransactions()
	b.metrics.incRolledBackTransactions()
}

// recomputeLargestScn rescans the live transaction set for its maximum
// lastScn, since largestScn is defined over currently-live transactions
// rather than maintained as a running high-water mark: a removal (commit,
// rollback, abandonment) can lower it.
func (b *TransactionalBuffer) recomputeLargestScn() {
	var max SCN
	for _, txn := range b.transactions {
		if txn.lastScn.Compare(max) > 0 {
			max = txn.lastScn
		}
	}
	b.largestScn = max
}

// abandonLongTransactions drops every buffered transaction whose
// firstScn is at or before cutoff, logging a debug dump of each before
// discarding it, and returns their ids. Callers use this to bound
// memory when a long-lived session never commits or rolls back within
// TransactionRetention. When a dumpSink is set, the dump is also
// persisted compressed for later inspection.
func (b *TransactionalBuffer) abandonLongTransactions(cutoff SCN) []TxnID {
	var ids []TxnID
	for id, txn := range b.transactions {
		if txn.firstScn.Compare(cutoff) > 0 {
			continue
		}
		dump := txn.dump()
		logger.GetLogger().Warnf("abandoning transaction older than retention: %s", dump)
		if b.dumpSink != nil {
			if err := b.writeDump(id, txn.lastScn, dump); err != nil {
				logger.GetLogger().Errorf("persisting abandoned transaction dump for %s: %v", id, err)
			}
		}
		delete(b.transactions, id)
		b.abandoned[id] = struct{}{}
		ids = append(ids, id)
		b.metrics.decActiveTransactions()
		b.metrics.incAbandonedTransactions()
	}
	if len(ids) > 0 {
		b.rebuildAbandonedFilter()
		b.recomputeLargestScn()
	}
	return ids
}

// DumpSink persists a compressed transaction dump for later inspection
// when a transaction is abandoned.
type DumpSink interface {
	WriteDump(id TxnID, scn SCN, compressed []byte) error
}

// SetDumpSink installs sink as the destination for abandoned-transaction
// dumps. A nil sink (the default) disables persistence.
func (b *TransactionalBuffer) SetDumpSink(sink DumpSink) {
	b.dumpSink = sink
}

func (b *TransactionalBuffer) writeDump(id TxnID, scn SCN, dump string) error {
	buf := bufferpool.Pool.Get()
	defer bufferpool.Pool.Put(buf)
	if err := utils.Compress(strings.NewReader(dump), buf); err != nil {
		return err
	}
	return b.dumpSink.WriteDump(id, scn, buf.Bytes())
}

func (b *TransactionalBuffer) rebuildAbandonedFilter() {
	all := make([]string, 0, len(b.abandoned))
	for id := range b.abandoned {
		all = append(all, string(id))
	}
	b.abandonedFilter = filter.Build(all)
}

// resetLargestScn explicitly overrides largestScn to value (NoSCN for
// "absent"), rather than recomputing it from the live transaction set.
// The mining loop calls this to push the watermark forward once a cycle
// has drained, so an idle buffer (no live transactions, recompute would
// yield zero) doesn't pin the window behind where mining has actually
// reached.
func (b *TransactionalBuffer) resetLargestScn(value SCN) {
	b.largestScn = value
}

// seedLastCommittedScn primes the commit dedup guard from a persisted
// offset's CommitScn, so a restart does not re-emit a transaction this
// process already committed downstream in a previous run (spec §4.1).
// A fresh buffer has nothing to seed from (NoSCN) and relies on the
// zero-value default, same as before any commit has happened.
func (b *TransactionalBuffer) seedLastCommittedScn(value SCN) {
	b.lastCommittedScn = value
}

// forgetStaleIDs drops all rolledBack/abandoned bookkeeping and resets
// the abandoned-id filter. It takes no SCN and clears both sets
// entirely, so after it runs a DML for a previously abandoned id is
// buffered as a new transaction. Unlike resetLargestScn this does not
// touch largestScn.
func (b *TransactionalBuffer) forgetStaleIDs() {
	b.rolledBack = make(map[TxnID]struct{})
	b.abandoned = make(map[TxnID]struct{})
	b.abandonedFilter = filter.New(1, 0.01)
}

// waitForDrain blocks until every commit queued at or below scn has had
// all its callbacks invoked, so the mining loop can safely persist an
// offset past scn.
func (b *TransactionalBuffer) waitForDrain(ctx context.Context, scn SCN) error {
	if b.pendingEmissions.Load() == 0 {
		return nil
	}
	// No commit above lastCommittedScn has been queued, so the watermark
	// never moves past it; waiting on a higher scn would never return.
	return b.emitMark.WaitForMark(ctx, uint64(Min(scn, b.lastCommittedScn)))
}

// pending reports how many commits are queued or in flight on the
// emission worker.
func (b *TransactionalBuffer) pending() int64 {
	return b.pendingEmissions.Load()
}

func (b *TransactionalBuffer) runEmissionWorker() {
	defer b.wg.Done()
	ctx := context.Background()
	for {
		select {
		case job := <-b.emitC:
			b.emit(ctx, job)
		case <-b.stopC:
			// drain whatever is already queued before exiting so
			// waitForDrain callers waiting on an already-queued commit
			// don't hang.
			for {
				select {
				case job := <-b.emitC:
					b.emit(ctx, job)
					continue
				default:
				}
				return
			}
		}
	}
}

func (b *TransactionalBuffer) emit(ctx context.Context, job emissionJob) {
	n := len(job.callbacks)
	for i, cb := range job.callbacks {
		remaining := n - 1 - i
		if err := cb.Invoke(ctx, job.commitTimestamp, job.smallestScn, job.hasSmallest, job.commitScn, remaining); err != nil {
			classified := Classify(err)
			select {
			case b.emitErrC <- classified:
			default:
			}
			logger.GetLogger().Errorf("dispatch failed for txn=%s commitScn=%s: %v", job.txnID, job.commitScn, classified)
		}
	}
	b.pendingEmissions.Add(-1)
	b.emitMark.Done(uint64(job.commitScn))
}
