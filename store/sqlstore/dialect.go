package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavor used by the store.
type Dialect string

const (
	// Postgres targets PostgreSQL via lib/pq.
	Postgres Dialect = "postgres"

	// MySQL targets MySQL/MariaDB via go-sql-driver/mysql.
	MySQL Dialect = "mysql"

	// SQLite targets SQLite via mattn/go-sqlite3.
	SQLite Dialect = "sqlite3"
)

// DialectForDriver maps a database/sql driver name to a Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported driver %q (want postgres, mysql, or sqlite3)", driver)
	}
}

// rebind rewrites ?-style placeholders into the dialect's native form.
// MySQL and SQLite use ? as-is; PostgreSQL uses $1, $2, ...
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row-locking clause appended to lease reads inside a
// transaction. SQLite serializes writers at the database level, so no clause
// is needed there.
func (d Dialect) forUpdate() string {
	if d == SQLite {
		return ""
	}
	return " FOR UPDATE"
}
