// Copyright 2025 Poiesic Systems
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

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/chatstore/storage"
)

// maxBackoff caps the wait between two delivery attempts.
const maxBackoff = 30 * time.Second

// PermanentError marks a delivery failure that another attempt cannot fix,
// such as a batch that cannot be encoded or a sink that was closed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err so that the dispatcher gives up on the batch at once.
// It returns nil when err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or any error it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// backoffDelay returns the wait after the given failed attempt: base doubled
// once per earlier failure, capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

// deliverWithRetry hands batch to the sink until it is accepted, the sink
// reports a permanent failure, the attempts run out or ctx ends. It returns
// the number of attempts made.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, batch storage.Batch) (int, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := d.sink.Deliver(ctx, batch)
		if err == nil {
			if attempt > 1 {
				d.logger.Debug("batch delivered after retry", "sequence", batch.Sequence, "attempt", attempt)
			}
			return attempt, nil
		}
		if IsPermanent(err) || attempt >= d.attempts {
			return attempt, err
		}

		delay := backoffDelay(d.backoff, attempt)
		d.logger.Debug("delivery failed, will retry",
			"sequence", batch.Sequence, "attempt", attempt, "maxAttempts", d.attempts, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
