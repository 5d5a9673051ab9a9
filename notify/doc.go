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

// Package notify delivers committed change batches to external sinks.
//
// A Dispatcher implements storage.Publisher. The transaction manager hands it
// each batch after commit; the dispatcher schedules delivery on a worker pool
// and retries a failing sink with exponential backoff. Delivery never affects
// the outcome of the unit of work that produced the batch.
//
// Sinks write batches to slog, an in-process channel, Kafka or Redis Pub/Sub.
// FanOut delivers one batch to several sinks concurrently.
package notify
