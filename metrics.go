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
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the connector's health counters. Every field is mutated
// by the mining thread only (see spec §5: "metrics counters are mutated
// by the mining thread only"); Snapshot and the Prometheus Collector
// implementation read them without synchronizing with that thread, per
// spec §9's design note to keep the management surface lock-free rather
// than contending with the hot path.
type Metrics struct {
	capturedDML            atomic.Int64
	activeTransactions     atomic.Int64
	committedTransactions  atomic.Int64
	abandonedTransactions  atomic.Int64
	rolledBackTransactions atomic.Int64
	duplicateEmissions     atomic.Int64
	networkProblems        atomic.Int64
	lagMillis              atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) incCapturedDML()            { m.capturedDML.Add(1) }
func (m *Metrics) incActiveTransactions()     { m.activeTransactions.Add(1) }
func (m *Metrics) decActiveTransactions()     { m.activeTransactions.Add(-1) }
func (m *Metrics) incCommittedTransactions()  { m.committedTransactions.Add(1) }
func (m *Metrics) incAbandonedTransactions()  { m.abandonedTransactions.Add(1) }
func (m *Metrics) incRolledBackTransactions() { m.rolledBackTransactions.Add(1) }
func (m *Metrics) incDuplicateEmissions()     { m.duplicateEmissions.Add(1) }
func (m *Metrics) incNetworkProblems()        { m.networkProblems.Add(1) }
func (m *Metrics) setLag(millis int64)        { m.lagMillis.Store(millis) }

// Snapshot is a point-in-time, allocation-light copy of every counter,
// suitable for the connector host's management interface.
type Snapshot struct {
	CapturedDML            int64
	ActiveTransactions     int64
	CommittedTransactions  int64
	AbandonedTransactions  int64
	RolledBackTransactions int64
	DuplicateEmissions     int64
	NetworkProblems        int64
	LagMillis              int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CapturedDML:            m.capturedDML.Load(),
		ActiveTransactions:     m.activeTransactions.Load(),
		CommittedTransactions:  m.committedTransactions.Load(),
		AbandonedTransactions:  m.abandonedTransactions.Load(),
		RolledBackTransactions: m.rolledBackTransactions.Load(),
		DuplicateEmissions:     m.duplicateEmissions.Load(),
		NetworkProblems:        m.networkProblems.Load(),
		LagMillis:              m.lagMillis.Load(),
	}
}

var (
	descCapturedDML = prometheus.NewDesc(
		"logminer_captured_dml_total", "Total DML rows registered with the transactional buffer.", nil, nil)
	descActiveTransactions = prometheus.NewDesc(
		"logminer_active_transactions", "Number of transactions currently buffered.", nil, nil)
	descCommittedTransactions = prometheus.NewDesc(
		"logminer_committed_transactions_total", "Total transactions committed and emitted downstream.", nil, nil)
	descAbandonedTransactions = prometheus.NewDesc(
		"logminer_abandoned_transactions_total", "Total transactions dropped as too old to recover.", nil, nil)
	descRolledBackTransactions = prometheus.NewDesc(
		"logminer_rolled_back_transactions_total", "Total transactions observed to roll back.", nil, nil)
	descDuplicateEmissions = prometheus.NewDesc(
		"logminer_duplicate_emissions_total", "Total commits suppressed as already emitted in a prior run.", nil, nil)
	descNetworkProblems = prometheus.NewDesc(
		"logminer_network_problems_total", "Total transient session/network faults recovered from.", nil, nil)
	descLagMillis = prometheus.NewDesc(
		"logminer_lag_milliseconds", "Milliseconds between the most recently mined change time and now, skew-corrected.", nil, nil)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCapturedDML
	ch <- descActiveTransactions
	ch <- descCommittedTransactions
	ch <- descAbandonedTransactions
	ch <- descRolledBackTransactions
	ch <- descDuplicateEmissions
	ch <- descNetworkProblems
	ch <- descLagMillis
}

// Collect implements prometheus.Collector, reading every counter
// atomically without coordinating with the mining thread.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	ch <- prometheus.MustNewConstMetric(descCapturedDML, prometheus.CounterValue, float64(s.CapturedDML))
	ch <- prometheus.MustNewConstMetric(descActiveTransactions, prometheus.GaugeValue, float64(s.ActiveTransactions))
	ch <- prometheus.MustNewConstMetric(descCommittedTransactions, prometheus.CounterValue, float64(s.CommittedTransactions))
	ch <- prometheus.MustNewConstMetric(descAbandonedTransactions, prometheus.CounterValue, float64(s.AbandonedTransactions))
	ch <- prometheus.MustNewConstMetric(descRolledBackTransactions, prometheus.CounterValue, float64(s.RolledBackTransactions))
	ch <- prometheus.MustNewConstMetric(descDuplicateEmissions, prometheus.CounterValue, float64(s.DuplicateEmissions))
	ch <- prometheus.MustNewConstMetric(descNetworkProblems, prometheus.CounterValue, float64(s.NetworkProblems))
	ch <- prometheus.MustNewConstMetric(descLagMillis, prometheus.GaugeValue, float64(s.LagMillis))
}

var _ prometheus.Collector = (*Metrics)(nil)
