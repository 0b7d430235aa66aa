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
	"errors"
	"strings"
)

var (
	// ErrOffsetOutOfRedo is returned from Prepare when the durable
	// offset's SCN has fallen out of the retrievable redo window and
	// continuous-mine mode is not enabled.
	ErrOffsetOutOfRedo = errors.New("offset scn is older than the oldest online redo log: clean offset and re-snapshot")
	// ErrEmptyLogPlan is returned by the planner when no online or
	// archived log covers the requested offset.
	ErrEmptyLogPlan = errors.New("no redo log covers the requested offset: clean offset and re-snapshot")
)

// FaultClass classifies an error raised while driving the mining loop.
type FaultClass int

const (
	// FaultFatal is not recoverable; the loop must stop.
	FaultFatal FaultClass = iota
	// FaultTransient is recoverable by restarting from Connect,
	// preserving startScn.
	FaultTransient
	// FaultDuplicateEmission is recovered locally by dropping the
	// transaction; never surfaced as an error to the caller, listed
	// here only so callers of classify can recognize it if they choose
	// to log it specially.
	FaultDuplicateEmission
)

// MiningError wraps an underlying cause with its fault classification.
type MiningError struct {
	Class FaultClass
	Err   error
}

func (e *MiningError) Error() string {
	return e.Err.Error()
}

func (e *MiningError) Unwrap() error {
	return e.Err
}

func fatal(err error) *MiningError {
	return &MiningError{Class: FaultFatal, Err: err}
}

func transient(err error) *MiningError {
	return &MiningError{Class: FaultTransient, Err: err}
}

// transientOraPrefixes are Oracle error-message prefixes that indicate a
// recoverable network or session failure: the connection lost contact
// with the server, the destination host was unreachable, an error
// occurred at the recursive SQL level, or an immediate shutdown was in
// progress.
var transientOraPrefixes = []string{
	"ORA-03135",
	"ORA-12543",
	"ORA-00604",
	"ORA-01089",
}

// classifyOraError reports whether msg names one of the known transient
// Oracle error codes, or looks like a bare socket I/O failure.
func classifyOraError(msg string) bool {
	for _, prefix := range transientOraPrefixes {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "i/o timeout")
}

// Classify turns a raw error from a collaborator (the mining session, the
// database driver) into a *MiningError carrying its fault class, per
// spec §7's taxonomy. A nil err returns nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var me *MiningError
	if errors.As(err, &me) {
		return me
	}
	if classifyOraError(err.Error()) {
		return transient(err)
	}
	return fatal(err)
}

// IsTransient reports whether err was classified as recoverable by
// restarting from Connect.
func IsTransient(err error) bool {
	var me *MiningError
	return errors.As(err, &me) && me.Class == FaultTransient
}
