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

// Package pagination computes page windows and page metadata.
//
// A Request names a 1-based page, a page size and an optional sort. Storage
// adapters translate it into an offset window over a deterministically ordered
// result set and report the outcome as a Page. Two modes exist:
//
//   - counted: the adapter knows the total number of matches and the Info carries
//     Total and TotalPages.
//   - uncounted (Request.SkipCount): the adapter fetches one row beyond the page
//     and only reports whether a next page exists.
//
// Requesting a page beyond the last one is not an error; it yields an empty page
// whose metadata is computed from the real total.
package pagination
