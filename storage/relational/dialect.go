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

package relational

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Dialect describes the SQL flavour of a database driver.
type Dialect struct {
	// Name identifies the dialect in configuration.
	Name string
	// Driver is the database/sql driver name.
	Driver string

	numbered  bool
	migration string
	dsn       func(string) string
	unique    func(error) (string, bool)
}

// SQLite is the dialect of github.com/mattn/go-sqlite3.
var SQLite = &Dialect{
	Name:      "sqlite",
	Driver:    "sqlite3",
	migration: "migrations/sqlite.sql",
	dsn:       sqliteDSN,
	unique: func(err error) (string, bool) {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return serr.Error(), true
		}
		return "", false
	},
}

// Postgres is the dialect of github.com/jackc/pgx/v5/stdlib.
var Postgres = &Dialect{
	Name:      "postgres",
	Driver:    "pgx",
	numbered:  true,
	migration: "migrations/postgres.sql",
	dsn:       func(dsn string) string { return dsn },
	unique: func(err error) (string, bool) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pgErr.ConstraintName, true
		}
		return "", false
	},
}

// ParseDialect returns the dialect called name.
func ParseDialect(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	case Postgres.Name, "postgresql", "pgx":
		return Postgres, nil
	}
	return nil, fmt.Errorf("unknown SQL dialect %q", name)
}

func (d *Dialect) String() string {
	return d.Name
}

// rebind rewrites ? placeholders into the dialect's form.
func (d *Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// uniqueViolation reports whether err is a uniqueness violation and returns
// the driver's description of the violated constraint.
func (d *Dialect) uniqueViolation(err error) (string, bool) {
	return d.unique(err)
}

// inMemory reports whether dsn names a private in-memory SQLite database.
func inMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN enables immediate write locks and a busy timeout so that
// concurrent units queue instead of failing with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	params := []string{"_txlock=immediate", "_busy_timeout=5000"}
	if !inMemory(dsn) {
		params = append(params, "_journal_mode=WAL")
	}
	var keep []string
	for _, p := range params {
		name, _, _ := strings.Cut(p, "=")
		if !strings.Contains(dsn, name+"=") {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && !inMemory(dsn) {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(keep, "&")
}
