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

// MiningStrategy selects how the data dictionary needed to resolve
// object ids in redo is obtained.
type MiningStrategy int

const (
	// OnlineCatalog resolves objects against the live data dictionary.
	// Faster to react, does not capture DDL.
	OnlineCatalog MiningStrategy = iota
	// CatalogInRedo rebuilds the dictionary into the redo stream on
	// every log switch. Slower, captures DDL.
	CatalogInRedo
)

type Config struct {
	LogMiningStrategy MiningStrategy
	ContinuousMine    bool

	MaxBatchSize int
	MaxQueueSize int
	PollInterval time.Duration

	TransactionRetention time.Duration
	ArchiveLogRetention  time.Duration

	// MinBatchSize/MaxBatchSizeBound bound the adaptive controller's
	// batchSize field; BatchSizeStep is its unit of increment.
	MinBatchSize      int
	MaxBatchSizeBound int
	BatchSizeStep     int

	// MinSleep/MaxSleep bound the adaptive controller's sleep field;
	// SleepStep is its unit of increment.
	MinSleep  time.Duration
	MaxSleep  time.Duration
	SleepStep time.Duration
}

var DefaultConfig = Config{
	LogMiningStrategy:    OnlineCatalog,
	ContinuousMine:       false,
	MaxBatchSize:         100_000,
	MaxQueueSize:         8192,
	PollInterval:         500 * time.Millisecond,
	TransactionRetention: 4 * time.Hour,
	ArchiveLogRetention:  24 * time.Hour,
	MinBatchSize:         1_000,
	MaxBatchSizeBound:    1_000_000,
	BatchSizeStep:        1_000,
	MinSleep:             100 * time.Millisecond,
	MaxSleep:             5 * time.Second,
	SleepStep:            100 * time.Millisecond,
}

func (c *Config) validate() error {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultConfig.MaxBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultConfig.MaxQueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultConfig.PollInterval
	}
	if c.TransactionRetention <= 0 {
		c.TransactionRetention = DefaultConfig.TransactionRetention
	}
	if c.ArchiveLogRetention <= 0 {
		c.ArchiveLogRetention = DefaultConfig.ArchiveLogRetention
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = DefaultConfig.MinBatchSize
	}
	if c.MaxBatchSizeBound <= 0 {
		c.MaxBatchSizeBound = DefaultConfig.MaxBatchSizeBound
	}
	if c.BatchSizeStep <= 0 {
		c.BatchSizeStep = DefaultConfig.BatchSizeStep
	}
	if c.MinSleep <= 0 {
		c.MinSleep = DefaultConfig.MinSleep
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = DefaultConfig.MaxSleep
	}
	if c.SleepStep <= 0 {
		c.SleepStep = DefaultConfig.SleepStep
	}
	return nil
}
