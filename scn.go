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

import "strconv"

// SCN is an Oracle System Change Number: a totally-ordered, unsigned
// integer assigned to every committed database change. Comparisons are
// always numeric, never lexical (see CompareSCN). Zero is the sentinel
// "unset" value.
//
// Every documented Oracle max-SCN sentinel (11g's 2^48-1 through 19c's
// 9295429630892703743) fits inside a uint64, so a plain uint64 is enough
// to carry it without the arbitrary-precision arithmetic the original
// Oracle driver library uses internally to straddle database versions;
// see DESIGN.md for why a big.Int-backed type was not worth its
// complexity here.
type SCN uint64

const (
	// NoSCN is the sentinel "unset" SCN.
	NoSCN SCN = 0

	// MaxSCN11_2 is Oracle 11.2's maximum SCN, 2^48-1.
	MaxSCN11_2 SCN = 1<<48 - 1
	// MaxSCN12_2 is Oracle 12.2's maximum SCN, 2^64-1.
	MaxSCN12_2 SCN = 1<<64 - 1
	// MaxSCN19_6 is Oracle 19.6's maximum SCN.
	MaxSCN19_6 SCN = 9295429630892703743
)

// TxnID is an opaque, database-assigned transaction identifier.
type TxnID string

// Compare returns -1, 0, or 1 as s is numerically less than, equal to,
// or greater than other.
func (s SCN) Compare(other SCN) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// IsOpenEnded reports whether s is one of the database's max-SCN
// sentinels, meaning the redo file it was read from is the current
// online log ("next change" not yet known).
func (s SCN) IsOpenEnded() bool {
	switch s {
	case MaxSCN11_2, MaxSCN12_2, MaxSCN19_6:
		return true
	default:
		return false
	}
}

func (s SCN) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Max returns the larger of a and b.
func Max(a, b SCN) SCN {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b SCN) SCN {
	if a < b {
		return a
	}
	return b
}
