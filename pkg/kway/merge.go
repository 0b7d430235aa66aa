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

// Package kway merges sorted runs of a comparable item, keeping the
// newest occurrence of each duplicate key. The log-file planner uses it
// to merge the online and archived redo log descriptors (each already
// sorted within its own source) into one deduplicated, ascending plan.
package kway

import (
	"container/heap"
)

// Merge merges sorted lists, each already ordered by less. When two
// items compare equal under key, the one from the list with the larger
// index (the "newer" source) wins, matching the later-list-wins
// semantics the original merge used for overlapping SSTable runs.
//
// lists are consumed (their backing slices are reused for popping the
// head element) so callers must not rely on their contents afterward.
func Merge[T any, K comparable](lists [][]T, less func(a, b T) bool, key func(T) K) []T {
	h := &heap[T]{less: less}

	for i, list := range lists {
		if len(list) > 0 {
			h.items = append(h.items, element[T]{val: list[0], li: i})
			lists[i] = list[1:]
		}
	}
	heapInit(h)

	latest := make(map[K]T)
	order := make([]K, 0)

	for h.Len() > 0 {
		e := heap.Pop(h).(element[T])
		k := key(e.val)
		if _, ok := latest[k]; !ok {
			order = append(order, k)
		}
		latest[k] = e.val

		if len(lists[e.li]) > 0 {
			heap.Push(h, element[T]{val: lists[e.li][0], li: e.li})
			lists[e.li] = lists[e.li][1:]
		}
	}

	merged := make([]T, 0, len(order))
	for _, k := range order {
		merged = append(merged, latest[k])
	}
	return merged
}

func heapInit[T any](h *heap[T]) {
	heap.Init(h)
}
