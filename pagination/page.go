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

package pagination

// Info is the metadata of one page.
type Info struct {
	Total       *int64 `json:"total"`
	CurrentPage int    `json:"current"`
	TotalPages  *int   `json:"totalPages"`
	NextPage    *int   `json:"next"`
	PrevPage    *int   `json:"previous"`
}

// NewInfo computes page metadata from a known total.
func NewInfo(r Request, total int64) Info {
	if total < 0 {
		total = 0
	}
	pages := 0
	if r.Size > 0 {
		pages = int((total + int64(r.Size) - 1) / int64(r.Size))
	}
	info := Info{
		Total:       &total,
		CurrentPage: r.Page,
		TotalPages:  &pages,
		PrevPage:    prev(r.Page),
	}
	if r.Page < pages {
		info.NextPage = ptr(r.Page + 1)
	}
	return info
}

// NewUncountedInfo computes page metadata when only the existence of a
// further item is known.
func NewUncountedInfo(r Request, hasMore bool) Info {
	info := Info{CurrentPage: r.Page, PrevPage: prev(r.Page)}
	if hasMore {
		info.NextPage = ptr(r.Page + 1)
	}
	return info
}

func prev(page int) *int {
	if page > 1 {
		return ptr(page - 1)
	}
	return nil
}

func ptr[V any](v V) *V { return &v }

// Page is one window of an ordered result set.
type Page[T any] struct {
	Items []T `json:"items"`
	Info  Info `json:"pagination"`
}

// NewPage builds a counted page. items must already be the window for r.
func NewPage[T any](r Request, items []T, total int64) Page[T] {
	return Page[T]{Items: nonNil(items), Info: NewInfo(r, total)}
}

// FromLookahead builds an uncounted page from up to r.Size+1 fetched items.
// The extra item, when present, only signals that a next page exists.
func FromLookahead[T any](r Request, fetched []T) Page[T] {
	hasMore := len(fetched) > r.Size
	if hasMore {
		fetched = fetched[:r.Size]
	}
	return Page[T]{Items: nonNil(fetched), Info: NewUncountedInfo(r, hasMore)}
}

// Slice windows an already filtered and ordered result set according to r,
// honouring r.SkipCount.
func Slice[T any](r Request, ordered []T) Page[T] {
	n := int64(len(ordered))
	start := min(max(r.Offset(), 0), n)
	end := min(start+int64(max(r.Size, 0)), n)
	window := make([]T, end-start)
	copy(window, ordered[start:end])
	if r.SkipCount {
		return Page[T]{Items: window, Info: NewUncountedInfo(r, end < n)}
	}
	return Page[T]{Items: window, Info: NewInfo(r, n)}
}

// Map converts the items of p, keeping its metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Items))
	for i, item := range p.Items {
		out[i] = fn(item)
	}
	return Page[U]{Items: out, Info: p.Info}
}

// Len is the number of items on the page.
func (p Page[T]) Len() int {
	return len(p.Items)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
