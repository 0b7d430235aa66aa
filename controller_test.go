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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() *Config {
	cfg := DefaultConfig
	cfg.MinBatchSize = 100
	cfg.MaxBatchSizeBound = 1000
	cfg.BatchSizeStep = 100
	cfg.MinSleep = 50 * time.Millisecond
	cfg.MaxSleep = 500 * time.Millisecond
	cfg.SleepStep = 50 * time.Millisecond
	return &cfg
}

func TestControllerShrinksAndCapsWhenFarAheadOfDb(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000 // defaultBatchSize threshold
	c := newController(cfg)
	c.batchSize = 500
	c.sleep = 200 * time.Millisecond

	// start=1000, batchSize=500 -> T=1500; current=100 -> T-current=1400 > 1000 (far future)
	end := c.NextWindow(100, 1000)
	assert.Equal(t, SCN(100), end)
	assert.Equal(t, 400, c.BatchSize())
	assert.Equal(t, 200*time.Millisecond, c.Sleep())
}

func TestControllerGrowsWhenFarBehindDb(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000
	c := newController(cfg)
	c.batchSize = 500
	c.sleep = 200 * time.Millisecond

	// start=100, batchSize=500 -> T=600; current=5000 -> current-T=4400 > 1000 (behind)
	end := c.NextWindow(5000, 100)
	assert.Equal(t, SCN(600), end)
	assert.Equal(t, 600, c.BatchSize())
	assert.Equal(t, 200*time.Millisecond, c.Sleep())
}

func TestControllerSlowsWhenCaughtUp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000
	c := newController(cfg)
	c.batchSize = 500
	c.sleep = 200 * time.Millisecond

	// start=100, batchSize=500 -> T=600; current=300 < T, within defaultBatchSize of T (caught up)
	end := c.NextWindow(300, 100)
	assert.Equal(t, SCN(300), end)
	assert.Equal(t, 500, c.BatchSize())
	assert.Equal(t, 250*time.Millisecond, c.Sleep())
}

func TestControllerSpeedsUpWhenInWindow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000
	c := newController(cfg)
	c.batchSize = 500
	c.sleep = 200 * time.Millisecond

	// start=100, batchSize=500 -> T=600; current=600 >= T (in window)
	end := c.NextWindow(600, 100)
	assert.Equal(t, SCN(600), end)
	assert.Equal(t, 500, c.BatchSize())
	assert.Equal(t, 150*time.Millisecond, c.Sleep())
}

func TestControllerClampsAtBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000
	c := newController(cfg)
	c.batchSize = cfg.MaxBatchSizeBound
	c.sleep = cfg.MinSleep

	// current far behind T -> would grow batchSize past its bound.
	c.NextWindow(100_000, 100)
	assert.Equal(t, cfg.MaxBatchSizeBound, c.BatchSize())

	c.batchSize = cfg.MinBatchSize
	c.sleep = cfg.MaxSleep
	// current far ahead of T -> would shrink batchSize past its bound.
	c.NextWindow(0, 1_000_000)
	assert.Equal(t, cfg.MinBatchSize, c.BatchSize())
}
