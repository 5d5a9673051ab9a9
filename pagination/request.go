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

import (
	"math"
	"strconv"
	"strings"

	"github.com/poiesic/chatstore/core"
)

// Size limits for a page request.
const (
	MinSize     = 1
	MaxSize     = 100
	DefaultSize = 20

	// MaxPage keeps offsets representable on every backend.
	MaxPage = math.MaxInt32
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// ParseDirection accepts ASC or DESC in any case. An empty string is Asc.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(Asc):
		return Asc, nil
	case string(Desc):
		return Desc, nil
	}
	return "", &core.ValidationError{Violations: []core.Violation{{
		Field:   "sort.direction",
		Rule:    core.RuleEnum,
		Message: "must be ASC or DESC, got " + strconv.Quote(raw),
	}}}
}

// Sort orders a result set by one field. An empty By sorts by identifier.
// Ties are always broken by ascending identifier.
type Sort struct {
	By        string
	Direction Direction
}

// ByID is the default ordering.
var ByID = Sort{Direction: Asc}

// Descending reports whether s sorts in descending order.
func (s Sort) Descending() bool {
	return s.Direction == Desc
}

func (s Sort) String() string {
	by := s.By
	if by == "" {
		by = "id"
	}
	dir := s.Direction
	if dir == "" {
		dir = Asc
	}
	return by + " " + string(dir)
}

// Request selects one page of a result set.
type Request struct {
	Page int
	Size int
	Sort Sort

	// SkipCount selects the uncounted mode: no total is computed and
	// Info.Total and Info.TotalPages stay nil.
	SkipCount bool
}

// NewRequest builds a validated Request. All violations are reported together.
func NewRequest(page, size int, sort Sort) (Request, error) {
	r := Request{Page: page, Size: size, Sort: sort}
	if r.Sort.Direction == "" {
		r.Sort.Direction = Asc
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// First returns the first page of the given size in identifier order.
func First(size int) (Request, error) {
	return NewRequest(1, size, ByID)
}

// Validate checks page, size and sort direction.
func (r Request) Validate() error {
	var vs []core.Violation
	if r.Page < 1 || r.Page > MaxPage {
		vs = append(vs, core.Violation{Field: "page", Rule: core.RuleRange,
			Message: "must be between 1 and " + strconv.Itoa(MaxPage)})
	}
	if r.Size < MinSize || r.Size > MaxSize {
		vs = append(vs, core.Violation{Field: "size", Rule: core.RuleRange,
			Message: "must be between " + strconv.Itoa(MinSize) + " and " + strconv.Itoa(MaxSize)})
	}
	if r.Sort.Direction != "" && r.Sort.Direction != Asc && r.Sort.Direction != Desc {
		vs = append(vs, core.Violation{Field: "sort.direction", Rule: core.RuleEnum,
			Message: "must be ASC or DESC"})
	}
	if len(vs) == 0 {
		return nil
	}
	return &core.ValidationError{Violations: vs}
}

// WithoutCount returns a copy in uncounted mode.
func (r Request) WithoutCount() Request {
	r.SkipCount = true
	return r
}

// WithSort returns a copy ordered by s.
func (r Request) WithSort(s Sort) Request {
	if s.Direction == "" {
		s.Direction = Asc
	}
	r.Sort = s
	return r
}

// Offset is the number of items preceding the page.
func (r Request) Offset() int64 {
	return int64(r.Page-1) * int64(r.Size)
}

// Limit is the number of rows an adapter fetches: the page size, plus one
// look-ahead row in uncounted mode.
func (r Request) Limit() int {
	if r.SkipCount {
		return r.Size + 1
	}
	return r.Size
}
