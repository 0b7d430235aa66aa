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
	"time"

	"github.com/oracdc/logminer/internal/offsetstore"
	"github.com/oracdc/logminer/pkg/logger"
)

// loopState is one stage of the mining loop's state machine.
type loopState int

const (
	stateConnect loopState = iota
	statePrepare
	stateMine
	stateAdvance
	stateRecover
	stateStopped
)

const _recoverBackoff = 1 * time.Second

// Loop drives the end-to-end mining cycle: connect and resume from the
// durable offset, register the redo files that cover the resume point,
// then repeatedly size a window via the adaptive controller, mine it,
// and advance the offset past it. A classified transient error at any
// stage sends the loop through Recover and back to Connect instead of
// stopping it.
type Loop struct {
	cfg        *Config
	session    MiningSession
	schema     SchemaProvider
	parser     DmlParser
	dispatcher Dispatcher
	flusher    PeerFlusher
	store      *offsetstore.Store
	metrics    *Metrics
	buffer     *TransactionalBuffer
	controller *Controller

	startScn   SCN
	endScn     SCN
	lastRowScn SCN
	plan       LogPlan
	onlineLogs []RedoFile
	mining     bool

	rateWindowStart time.Time
	rateWindowScn   SCN
	scnPerSecond    float64

	skewSet      bool
	skewBaseline time.Duration
}

// NewLoop wires a Loop from its collaborators. cfg is copied and
// validated so the caller's value is never mutated.
func NewLoop(cfg Config, session MiningSession, schema SchemaProvider, parser DmlParser, dispatcher Dispatcher, flusher PeerFlusher, store *offsetstore.Store, metrics *Metrics) *Loop {
	_ = cfg.validate()
	return &Loop{
		cfg:        &cfg,
		session:    session,
		schema:     schema,
		parser:     parser,
		dispatcher: dispatcher,
		flusher:    flusher,
		store:      store,
		metrics:    metrics,
		buffer:     newTransactionalBufferSized(metrics, cfg.MaxQueueSize),
		controller: newController(&cfg),
	}
}

// Buffer exposes the underlying transactional buffer, e.g. to install a
// DumpSink before Run starts.
func (l *Loop) Buffer() *TransactionalBuffer {
	return l.buffer
}

// Close ends any still-open mining session and stops the buffer's
// emission worker. Call after Run returns.
func (l *Loop) Close() {
	if l.mining {
		_ = l.session.EndMining(context.Background())
		l.mining = false
	}
	l.buffer.Stop()
}

// Run drives the state machine until ctx is cancelled or a fatal error
// is raised, whichever comes first.
func (l *Loop) Run(ctx context.Context) error {
	state := stateConnect
	var faultErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case stateConnect:
			if err := l.connect(ctx); err != nil {
				if IsTransient(err) {
					faultErr, state = err, stateRecover
					continue
				}
				return err
			}
			state = statePrepare

		case statePrepare:
			if err := l.prepare(ctx); err != nil {
				if IsTransient(err) {
					faultErr, state = err, stateRecover
					continue
				}
				return err
			}
			state = stateMine

		case stateMine:
			if err := l.mineCycle(ctx); err != nil {
				if IsTransient(err) {
					faultErr, state = err, stateRecover
					continue
				}
				return err
			}
			state = stateAdvance

		case stateAdvance:
			if err := l.advance(ctx); err != nil {
				if IsTransient(err) {
					faultErr, state = err, stateRecover
					continue
				}
				return err
			}
			state = stateMine

		case stateRecover:
			if err := l.recover(ctx, faultErr); err != nil {
				return err
			}
			state = stateConnect

		case stateStopped:
			return nil
		}
	}
}

// connect resumes from the durably persisted offset, falling back to
// the database's current SCN when nothing has ever been persisted, and
// confirms peer log writers are flushed before trusting what the
// session reports next. It also resets the clock-skew baseline so the
// lag metric is computed relative to this connection.
func (l *Loop) connect(ctx context.Context) error {
	l.skewSet = false

	rec, ok, err := l.store.Load()
	if err != nil {
		return fatal(err)
	}
	if ok {
		l.startScn = SCN(rec.Scn)
		l.buffer.seedLastCommittedScn(SCN(rec.CommitScn))
	} else {
		scn, err := l.session.CurrentSCN(ctx)
		if err != nil {
			return Classify(err)
		}
		l.startScn = scn
	}

	if err := l.flusher.FlushPeers(ctx); err != nil {
		return Classify(err)
	}
	return nil
}

// prepare fails fast if startScn has fallen out of the retrievable redo
// window (spec §4.4: not using continuous-mine and startScn is older
// than the oldest online log's first change), then registers the
// initial set of redo files covering startScn. Mining itself happens in
// mineCycle, one adaptively-sized window at a time.
func (l *Loop) prepare(ctx context.Context) error {
	if !l.cfg.ContinuousMine {
		oldest, err := l.session.OldestOnlineFirstChange(ctx)
		if err != nil {
			return Classify(err)
		}
		if l.startScn.Compare(oldest) < 0 {
			return fatal(ErrOffsetOutOfRedo)
		}
	}

	online, err := l.session.ListOnlineLogs(ctx)
	if err != nil {
		return Classify(err)
	}
	l.onlineLogs = online
	return l.registerPlan(ctx)
}

// registerPlan rebuilds the log-file plan covering startScn against the
// last-seen online log snapshot and reconciles the session's registered
// file set against it.
func (l *Loop) registerPlan(ctx context.Context) error {
	plan, err := buildLogPlanFrom(ctx, l.session, l.onlineLogs, l.startScn, l.archiveLogCutoff())
	if err != nil {
		if errors.Is(err, ErrEmptyLogPlan) {
			if !l.cfg.ContinuousMine {
				return fatal(ErrOffsetOutOfRedo)
			}
			return transient(err)
		}
		return Classify(err)
	}

	toRegister, toDeregister := diffPlan(l.plan.Files, plan.Files)
	for _, f := range toDeregister {
		if err := l.session.DeregisterFile(ctx, f); err != nil {
			return Classify(err)
		}
	}
	for _, f := range toRegister {
		if err := l.session.RegisterFile(ctx, f); err != nil {
			return Classify(err)
		}
	}
	l.plan = plan
	return nil
}

// mineCycle is the Mine state: size the next window via the adaptive
// controller, pause the controller's current inter-cycle sleep, detect
// a log switch and react to it (abandon stale transactions, rebuild the
// plan), then mine the window to completion.
func (l *Loop) mineCycle(ctx context.Context) error {
	if classified := l.drainEmitErr(); classified != nil {
		return classified
	}

	currentScn, err := l.session.CurrentSCN(ctx)
	if err != nil {
		return Classify(err)
	}
	endScn := l.controller.NextWindow(currentScn, l.startScn)

	select {
	case <-time.After(l.controller.Sleep()):
	case <-ctx.Done():
		return ctx.Err()
	}

	online, err := l.session.ListOnlineLogs(ctx)
	if err != nil {
		return Classify(err)
	}
	if onlineLogsChanged(l.onlineLogs, online) {
		if l.mining {
			if err := l.session.EndMining(ctx); err != nil {
				return Classify(err)
			}
			l.mining = false
		}
		if cutoff := l.retentionCutoff(); cutoff > NoSCN {
			if abandoned := l.buffer.abandonLongTransactions(cutoff); len(abandoned) > 0 {
				logger.GetLogger().Warnf("abandoned %d transactions older than retention after log switch", len(abandoned))
			}
		}
		l.onlineLogs = online
		if err := l.registerPlan(ctx); err != nil {
			return err
		}
	}

	if err := l.session.BeginMining(ctx, l.startScn, endScn, l.cfg.LogMiningStrategy, l.cfg.ContinuousMine); err != nil {
		return Classify(err)
	}
	l.mining = true

	iter, err := l.session.Fetch(ctx, l.startScn, endScn)
	if err != nil {
		return Classify(err)
	}
	defer func() { _ = iter.Close() }()

	l.lastRowScn = NoSCN
	for {
		row, ok, err := iter.Next(ctx)
		if err != nil {
			return Classify(err)
		}
		if !ok {
			break
		}
		l.handleRow(ctx, row)
	}

	l.endScn = endScn
	return nil
}

// onlineLogsChanged reports whether the set of online redo files
// differs from prev, keyed by name: a log switch adds the newly
// current file and/or retires the previously current one.
func onlineLogsChanged(prev, next []RedoFile) bool {
	if len(prev) != len(next) {
		return true
	}
	prevByName := make(map[string]RedoFile, len(prev))
	for _, f := range prev {
		prevByName[f.Name] = f
	}
	for _, f := range next {
		if old, ok := prevByName[f.Name]; !ok || old != f {
			return true
		}
	}
	return false
}

func (l *Loop) handleRow(ctx context.Context, row MiningRow) {
	l.lastRowScn = Max(l.lastRowScn, row.SCN)

	switch row.Kind {
	case RowDML:
		l.recordSkew(row.ChangeTime)
		cb := CommitCallback{
			Parser:     l.parser,
			Schema:     l.schema,
			Dispatcher: l.dispatcher,
			SQLRedo:    row.SQLRedo,
		}
		l.buffer.register(ctx, row.TxnID, row.SCN, row.SQLRedo, cb)
	case RowCommit:
		l.recordSkew(row.CommitTimestamp)
		l.buffer.commit(ctx, row.TxnID, row.SCN, row.CommitTimestamp)
	case RowRollback:
		l.buffer.rollback(ctx, row.TxnID)
	}
}

// recordSkew establishes a clock-skew baseline from the first row
// observed after Connect, then reports every subsequent row's lag
// relative to that baseline so a fixed, already-accounted-for skew
// between the database and mining host clocks doesn't inflate the lag
// metric. Called from handleRow with a DML's changeTime and a commit's
// timestamp alike (spec §4.1/§4.4: both update the lag gauge).
func (l *Loop) recordSkew(dbClockMillis int64) {
	now := time.Now().UnixMilli()
	skew := time.Duration(now-dbClockMillis) * time.Millisecond
	if !l.skewSet {
		l.skewBaseline = skew
		l.skewSet = true
	}
	lag := skew - l.skewBaseline
	if lag < 0 {
		lag = 0
	}
	l.metrics.setLag(int64(lag / time.Millisecond))
}

// drainEmitErr returns the first classified dispatch error raised by
// the buffer's emission worker, if any, without blocking.
func (l *Loop) drainEmitErr() error {
	select {
	case err := <-l.buffer.emitErrC:
		return err
	default:
		return nil
	}
}

// advance blocks until every commit emitted this cycle has drained,
// abandons transactions that have outlived TransactionRetention,
// forgets bookkeeping the buffer no longer needs, advances startScn per
// spec §4.4, and persists the new resume offset.
func (l *Loop) advance(ctx context.Context) error {
	if classified := l.drainEmitErr(); classified != nil {
		return classified
	}
	if err := l.buffer.waitForDrain(ctx, l.lastRowScn); err != nil {
		return transient(err)
	}

	l.updateScnRate()
	if cutoff := l.retentionCutoff(); cutoff > NoSCN {
		if abandoned := l.buffer.abandonLongTransactions(cutoff); len(abandoned) > 0 {
			logger.GetLogger().Warnf("abandoned %d transactions older than retention", len(abandoned))
		}
	}

	// nextStart = buffer.largestScn==0 ? endScn : buffer.largestScn
	// (spec §4.4); largestScn==0 (no live transaction) means endScn is
	// safe to move straight to, since nothing older is still buffered.
	nextStart := l.buffer.largestScn
	if nextStart == NoSCN {
		nextStart = l.endScn
	}
	if nextStart.Compare(l.startScn) <= 0 {
		// Idle period: the watermark hint didn't move the window
		// forward. Unpin it at endScn rather than let a stale
		// largestScn re-pin the next cycle's window.
		l.buffer.resetLargestScn(l.endScn)
		nextStart = l.endScn
	}
	l.startScn = nextStart

	if l.buffer.isEmpty() {
		l.buffer.resetLargestScn(NoSCN)
	}
	l.buffer.forgetStaleIDs()

	return l.persistOffset()
}

// updateScnRate estimates how fast SCNs advance in the redo stream from
// the highest row SCN actually observed (lastRowScn), not from the
// buffer's largestScn: the latter is scoped to currently-live
// transactions and can drop to zero the moment the buffer drains, which
// would make it a poor rate signal across an idle cycle.
func (l *Loop) updateScnRate() {
	now := time.Now()
	if !l.rateWindowStart.IsZero() {
		elapsed := now.Sub(l.rateWindowStart).Seconds()
		if elapsed > 0 && l.lastRowScn > l.rateWindowScn {
			l.scnPerSecond = float64(l.lastRowScn-l.rateWindowScn) / elapsed
		}
	}
	l.rateWindowStart = now
	l.rateWindowScn = l.lastRowScn
}

// archiveLogCutoff bounds how far back into archived logs the plan asks
// the session to look, derived from Config.ArchiveLogRetention the same
// way retentionCutoff derives its bound from TransactionRetention.
// Before scnPerSecond has a first estimate, it falls back to startScn so
// ListArchivedLogs is not asked to scan further back than where mining
// will actually resume.
func (l *Loop) archiveLogCutoff() SCN {
	if l.scnPerSecond <= 0 {
		return l.startScn
	}
	budget := SCN(l.scnPerSecond * l.cfg.ArchiveLogRetention.Seconds())
	if l.startScn <= budget {
		return NoSCN
	}
	return l.startScn - budget
}

func (l *Loop) retentionCutoff() SCN {
	if l.scnPerSecond <= 0 {
		return NoSCN
	}
	budget := SCN(l.scnPerSecond * l.cfg.TransactionRetention.Seconds())
	if l.buffer.largestScn <= budget {
		return NoSCN
	}
	return l.buffer.largestScn - budget
}

func (l *Loop) persistOffset() error {
	return l.store.Save(offsetstore.Record{
		Scn:       uint64(l.startScn),
		CommitScn: uint64(l.buffer.lastCommittedScn),
	})
}

// recover waits out a backoff before returning the loop to Connect,
// preserving startScn so mining resumes where it left off.
func (l *Loop) recover(ctx context.Context, err error) error {
	l.metrics.incNetworkProblems()
	logger.GetLogger().Warnf("recovering from transient fault: %v", err)

	timer := time.NewTimer(_recoverBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
