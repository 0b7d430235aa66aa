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
	"time"
)

const (
	_peerFlushAttempts    = 3
	_peerFlushInitialWait = 250 * time.Millisecond
)

// PeerFlush is a PeerFlusher func adapter.
type PeerFlush func(ctx context.Context) error

func (f PeerFlush) FlushPeers(ctx context.Context) error { return f(ctx) }

// DefaultPeerFlusher retries probe up to _peerFlushAttempts times with
// exponential backoff starting at _peerFlushInitialWait, returning nil
// the first time probe succeeds and probe's last error if every attempt
// fails. This replaces the reference connector's fixed-duration sleep
// (spec's open question on the peer-flush stub): a cluster with slow or
// momentarily unreachable peers gets a bounded number of chances to
// acknowledge instead of one fixed wait that is either too short under
// load or wastefully long when idle.
func DefaultPeerFlusher(probe func(ctx context.Context) error) PeerFlusher {
	return PeerFlush(func(ctx context.Context) error {
		wait := _peerFlushInitialWait
		var lastErr error
		for attempt := 0; attempt < _peerFlushAttempts; attempt++ {
			if attempt > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
				wait *= 2
			}
			if lastErr = probe(ctx); lastErr == nil {
				return nil
			}
		}
		return lastErr
	})
}

// NoopPeerFlusher never needs to coordinate with peers, for single-node
// deployments.
var NoopPeerFlusher PeerFlusher = PeerFlush(func(context.Context) error { return nil })
