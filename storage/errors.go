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

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/chatstore/core"
)

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("uniqueness conflict")

	// ErrTransaction is matched by every *TransactionError.
	ErrTransaction = errors.New("transaction failed")

	// ErrInactive indicates a repository handle was used after its unit of work ended.
	ErrInactive = errors.New("unit of work is not active")

	// ErrRolledBack is returned by Run when the operation rolled its unit back explicitly.
	ErrRolledBack = errors.New("unit of work was rolled back")

	// ErrNestedTransaction indicates Run was called from inside another unit of work.
	ErrNestedTransaction = errors.New("nested transactions are not supported")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters, such as an unknown sort field.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrSequenceExhausted indicates no identifier is left above the high-water mark.
	ErrSequenceExhausted = errors.New("identifier sequence exhausted")
)

// ConflictError reports a uniqueness violation detected while saving.
type ConflictError struct {
	Entity     string
	Constraint string
	Value      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %s %q already exists", ErrConflict, e.Entity, e.Constraint, e.Value)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Transaction operations reported by TransactionError.
const (
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
)

// TransactionError reports a failure to begin, commit or roll back a unit of work.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransaction, e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransaction.
func (e *TransactionError) Is(target error) bool {
	return target == ErrTransaction
}

func txError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransactionError{Op: op, Err: err}
}

// Fatal reports whether err leaves a unit of work unable to commit.
// Caller mistakes (validation, bad queries, use after end) are not fatal;
// conflicts and storage failures are.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, ErrInvalidQuery),
		errors.Is(err, ErrInactive),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
