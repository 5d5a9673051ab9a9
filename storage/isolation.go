package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// Isolation is the isolation level a unit of work is opened with. Its meaning
// is defined by the backend; backends without native support run every level
// as Serializable.
type Isolation int

const (
	IsolationDefault Isolation = iota
	ReadUncommitted
	ReadCommitted
	RepeatableRead
	Serializable
)

var isolationNames = [...]string{
	IsolationDefault: "DEFAULT",
	ReadUncommitted:  "READ_UNCOMMITTED",
	ReadCommitted:    "READ_COMMITTED",
	RepeatableRead:   "REPEATABLE_READ",
	Serializable:     "SERIALIZABLE",
}

func (i Isolation) String() string {
	if i < 0 || int(i) >= len(isolationNames) {
		return fmt.Sprintf("Isolation(%d)", int(i))
	}
	return isolationNames[i]
}

// Valid reports whether i is one of the defined levels.
func (i Isolation) Valid() bool {
	return i >= IsolationDefault && i <= Serializable
}

// SQL maps i onto the database/sql isolation level.
func (i Isolation) SQL() sql.IsolationLevel {
	switch i {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case ReadCommitted:
		return sql.LevelReadCommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// ParseIsolation accepts the names printed by String, case-insensitively,
// with either underscores or spaces.
func ParseIsolation(raw string) (Isolation, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(raw)), " ", "_")
	if norm == "" {
		return IsolationDefault, nil
	}
	for i, name := range isolationNames {
		if name == norm {
			return Isolation(i), nil
		}
	}
	return IsolationDefault, fmt.Errorf("%w: unknown isolation level %q", ErrInvalidQuery, raw)
}
