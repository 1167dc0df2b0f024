// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handles

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor releases idle handles in the background. Call Stop to cancel the goroutine
// and wait for it to exit.
type Janitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the janitor and blocks until it has exited. Safe on a nil Janitor.
func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	j.cancel()
	<-j.done
}

// StartJanitor starts a goroutine that, every interval, releases handles that have not
// been resolved for longer than idleTimeout. It returns nil when idleTimeout is not
// positive, which disables eviction.
func (r *Registry) StartJanitor(ctx context.Context, idleTimeout, interval time.Duration) *Janitor {
	if idleTimeout <= 0 {
		r.logger.Debug("Idle handle eviction disabled")
		return nil
	}

	if interval <= 0 {
		interval = idleTimeout / 2
		r.logger.Warn("Janitor interval is non-positive; using half the idle timeout",
			zap.Duration("interval", interval))
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.logger.Info("Starting idle handle janitor",
		zap.Duration("idle_timeout", idleTimeout),
		zap.Duration("interval", interval))

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Idle handle janitor stopped")
				return
			case <-ticker.C:
				if n := r.EvictIdle(r.now().Add(-idleTimeout)); n > 0 {
					r.logger.Info("Idle handle sweep completed", zap.Int("evicted", n))
				}
			}
		}
	}()

	return &Janitor{cancel: cancel, done: done}
}
