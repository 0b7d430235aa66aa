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

import "time"

// Controller adapts the mining window's SCN span (batchSize) and the
// inter-cycle sleep to keep the mining head close to the database head
// without issuing near-empty windows once it has caught up. Its clamped
// increment/decrement style mirrors Config.validate's bounds-checked
// setters. batchSize and sleep are the only two fields NextWindow
// mutates; an operator-driven management interface may also set them
// directly between cycles (spec §4.5: "the controller is the only
// writer of these fields outside of operator mutation").
type Controller struct {
	cfg *Config

	batchSize int
	sleep     time.Duration
}

func newController(cfg *Config) *Controller {
	return &Controller{
		cfg:       cfg,
		batchSize: cfg.MaxBatchSize,
		sleep:     cfg.MinSleep,
	}
}

// BatchSize is the current SCN span added to startScn to propose the
// next window's upper bound.
func (c *Controller) BatchSize() int {
	return c.batchSize
}

// Sleep is how long the mining loop should wait before its next cycle.
func (c *Controller) Sleep() time.Duration {
	return c.sleep
}

// NextWindow computes this cycle's endScn from the database's current
// SCN and the window's startScn, and adjusts batchSize/sleep for the
// cycle after, per spec §4.5's table. Let T = start + batchSize:
//
//	T−current > defaultBatchSize (far future): shrink batchSize, cap endScn at current.
//	current−T > defaultBatchSize (behind):     grow batchSize, keep endScn at T.
//	current < T (caught up):                   grow sleep, cap endScn at current.
//	current ≥ T (in window):                   shrink sleep, keep endScn at T.
//
// The far-future/behind cases take precedence since they can each also
// satisfy the looser current-vs-T comparison the last two rows test.
func (c *Controller) NextWindow(current, start SCN) SCN {
	def := SCN(c.cfg.MaxBatchSize)
	t := start + SCN(c.batchSize)

	switch {
	case t > current && t-current > def:
		c.batchSize = clampInt(c.batchSize-c.cfg.BatchSizeStep, c.cfg.MinBatchSize, c.cfg.MaxBatchSizeBound)
		return current
	case current > t && current-t > def:
		c.batchSize = clampInt(c.batchSize+c.cfg.BatchSizeStep, c.cfg.MinBatchSize, c.cfg.MaxBatchSizeBound)
		return t
	case current < t:
		c.sleep = clampDuration(c.sleep+c.cfg.SleepStep, c.cfg.MinSleep, c.cfg.MaxSleep)
		return current
	default:
		c.sleep = clampDuration(c.sleep-c.cfg.SleepStep, c.cfg.MinSleep, c.cfg.MaxSleep)
		return t
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
