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

package core

import (
	"errors"
	"strings"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// Domain state transition errors
var (
	// ErrInvitationNotPending indicates an invitation was already accepted, rejected or used.
	ErrInvitationNotPending = errors.New("invitation is not pending")

	// ErrInvitationExpired indicates an invitation is past its expiry.
	ErrInvitationExpired = errors.New("invitation has expired")

	// ErrOwnerMembership indicates an operation that would leave a channel without its owner.
	ErrOwnerMembership = errors.New("channel owner membership cannot be changed")

	// ErrNotMember indicates the user is not a member of the channel.
	ErrNotMember = errors.New("user is not a channel member")
)

// Validation rule names reported in a Violation.
const (
	RuleRequired = "required"
	RuleLength   = "length"
	RuleRange    = "range"
	RuleFormat   = "format"
	RuleEnum     = "enum"
	RuleRelation = "relation"
)

// Violation describes one broken rule for one field.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError carries every violation found while constructing a value.
// It is never returned with an empty Violations slice.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Has reports whether a violation exists for field and rule.
func (e *ValidationError) Has(field, rule string) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Rule == rule {
			return true
		}
	}
	return false
}

// violations accumulates rule failures so that all of them are reported together.
type violations []Violation

func (vs *violations) add(field, rule, message string) {
	*vs = append(*vs, Violation{Field: field, Rule: rule, Message: message})
}

func (vs *violations) check(ok bool, field, rule, message string) {
	if !ok {
		vs.add(field, rule, message)
	}
}

// merge appends the violations of err, prefixing their field with field.
// Errors that are not validation errors are recorded as a single violation.
func (vs *violations) merge(field string, err error) {
	if err == nil {
		return
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		vs.add(field, RuleFormat, err.Error())
		return
	}
	for _, v := range verr.Violations {
		if field != "" && v.Field != field {
			v.Field = field + "." + v.Field
		}
		*vs = append(*vs, v)
	}
}

func (vs violations) err() error {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Violation, len(vs))
	copy(out, vs)
	return &ValidationError{Violations: out}
}
