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

	"github.com/oracdc/logminer/pkg/kway"
)

// LogPlan is the ordered, deduplicated set of redo files covering
// [Start, End], as computed by planLogs. The files are not checked for
// gaps between them.
type LogPlan struct {
	Files []RedoFile
	Start SCN
	End   SCN
}

// planLogs merges the online and archived redo file descriptors
// returned by a MiningSession into a single ascending-by-FirstChange
// plan covering startScn onward; it does not check for gaps between
// consecutive files. A file present in both
// lists (a just-archived online log straddling the query) shares its
// NextChange between the two descriptors even though the archived copy
// usually has a different Name, so the merge dedupes on NextChange per
// spec §4.3 step 3; it keeps the archived descriptor, since archived is
// merged second and kway.Merge keeps the later occurrence of a
// duplicate key. The still-open current online file is exempted from
// that keying (its NextChange is the open-ended sentinel, which
// multiple genuinely distinct files could share) and is deduped by
// Name instead.
//
// Returns ErrEmptyLogPlan if nothing covers startScn.
func planLogs(online, archived []RedoFile, startScn SCN) (LogPlan, error) {
	merged := kway.Merge(
		[][]RedoFile{online, archived},
		func(a, b RedoFile) bool { return a.FirstChange < b.FirstChange },
		dedupKey,
	)

	files := make([]RedoFile, 0, len(merged))
	for _, f := range merged {
		if !f.IsCurrent() && f.NextChange.Compare(startScn) < 0 {
			continue
		}
		files = append(files, f)
	}

	if len(files) == 0 {
		return LogPlan{}, ErrEmptyLogPlan
	}

	end := files[len(files)-1].NextChange
	return LogPlan{Files: files, Start: startScn, End: end}, nil
}

// dedupKey is planLogs' merge key: the open-ended current online file
// is keyed by Name (its NextChange sentinel is shared by every current
// file and would otherwise collapse them together), every other file
// is keyed by NextChange so an archived copy of a just-rotated online
// log collapses onto the same entry regardless of its Name.
func dedupKey(f RedoFile) string {
	if f.IsCurrent() {
		return "current:" + f.Name
	}
	return f.NextChange.String()
}

// diffPlan compares the previously registered file set against next
// and reports which files must be newly registered with the mining
// session and which are no longer part of the plan and should be
// deregistered, keyed by file name.
func diffPlan(prev, next []RedoFile) (toRegister, toDeregister []RedoFile) {
	prevByName := make(map[string]RedoFile, len(prev))
	for _, f := range prev {
		prevByName[f.Name] = f
	}
	nextByName := make(map[string]RedoFile, len(next))
	for _, f := range next {
		nextByName[f.Name] = f
		if old, ok := prevByName[f.Name]; !ok || old != f {
			toRegister = append(toRegister, f)
		}
	}
	for _, f := range prev {
		if _, ok := nextByName[f.Name]; !ok {
			toDeregister = append(toDeregister, f)
		}
	}
	return toRegister, toDeregister
}

// buildLogPlan queries session for the current online and archived
// redo file inventory and computes the plan covering startScn, using
// archiveCutoff (derived from Config.ArchiveLogRetention by the
// caller) to bound how far back into archived logs the session looks.
func buildLogPlan(ctx context.Context, session MiningSession, startScn, archiveCutoff SCN) (LogPlan, error) {
	online, err := session.ListOnlineLogs(ctx)
	if err != nil {
		return LogPlan{}, err
	}
	return buildLogPlanFrom(ctx, session, online, startScn, archiveCutoff)
}

// buildLogPlanFrom is buildLogPlan with the online log inventory
// already in hand, so a caller that just re-read it to detect a log
// switch (the mining loop's Mine state) doesn't query it twice.
func buildLogPlanFrom(ctx context.Context, session MiningSession, online []RedoFile, startScn, archiveCutoff SCN) (LogPlan, error) {
	archived, err := session.ListArchivedLogs(ctx, archiveCutoff)
	if err != nil {
		return LogPlan{}, err
	}
	return planLogs(online, archived, startScn)
}
