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

// Offset is the durable resume point for the mining loop. Scn is the
// highest SCN the loop has finished mining past (every commit at or
// below it has been emitted); CommitScn is the commit SCN of the last
// transaction actually dispatched, used to recognize a replayed commit
// after a restart. Both fields are monotone non-decreasing; that is the
// store's only durability invariant.
type Offset struct {
	Scn               SCN
	CommitScn         SCN
	SnapshotCompleted bool
}
