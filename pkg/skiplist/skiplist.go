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

// Package skiplist is an ordered map keyed by uint64, used by a
// transaction record to hold its redo SQL statements indexed by SCN so
// that debug dumps can walk them in SCN order without a separate
// sort pass.
package skiplist

import (
	"math/rand"
	"time"
)

// SkipList
// Level 3:       3 ----------- 9 ----------- 21 --------- 26
// Level 2:       3 ----- 6 ---- 9 ------ 19 -- 21 ---- 25 -- 26
// Level 1:       3 -- 6 -- 7 -- 9 -- 12 -- 19 -- 21 -- 25 -- 26
// next of Element 3 [ ->6, ->6, ->9 ]
// next of Element 6 [ ->7, ->9 ]
type SkipList struct {
	maxLevel int
	p        float64
	level    int
	rand     *rand.Rand
	size     int
	head     *element
}

type element struct {
	key  uint64
	vals []string
	next []*element
}

func New(maxLevel int, p float64) *SkipList {
	return &SkipList{
		maxLevel: maxLevel,
		p:        p,
		level:    1,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		size:     0,
		head: &element{
			next: make([]*element, maxLevel),
		},
	}
}

func (s *SkipList) Size() int {
	return s.size
}

// Append adds val to the list stored at key, preserving insertion order
// within that key, and returns the full list stored at key after the
// append.
func (s *SkipList) Append(key uint64, val string) []string {
	curr := s.head
	update := make([]*element, s.maxLevel)

	for i := s.maxLevel - 1; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i].key < key {
			curr = curr.next[i]
		}
		update[i] = curr
	}

	if curr.next[0] != nil && curr.next[0].key == key {
		curr.next[0].vals = append(curr.next[0].vals, val)
		s.size++
		return curr.next[0].vals
	}

	level := s.randomLevel()
	if level > s.level {
		for i := s.level; i < level; i++ {
			update[i] = s.head
		}
		s.level = level
	}

	e := &element{
		key:  key,
		vals: []string{val},
		next: make([]*element, level),
	}
	for i := range level {
		e.next[i] = update[i].next[i]
		update[i].next[i] = e
	}
	s.size++
	return e.vals
}

// Get returns the list stored at key, if any.
func (s *SkipList) Get(key uint64) ([]string, bool) {
	curr := s.head
	for i := s.maxLevel - 1; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i].key < key {
			curr = curr.next[i]
		}
	}
	curr = curr.next[0]
	if curr != nil && curr.key == key {
		return curr.vals, true
	}
	return nil, false
}

// All returns every (key, vals) pair in ascending key order.
func (s *SkipList) All() []KV {
	var all []KV
	curr := s.head.next[0]
	for curr != nil {
		all = append(all, KV{Key: curr.key, Vals: curr.vals})
		curr = curr.next[0]
	}
	return all
}

type KV struct {
	Key  uint64
	Vals []string
}

// n <= MaxLevel, return level >= n has probability P^(n-1)
func (s *SkipList) randomLevel() int {
	level := 1
	for s.rand.Float64() < s.p && level < s.maxLevel {
		level++
	}
	return level
}
