package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// MigrationRoot is the directory of migrations.FS holding this dialect's files.
	MigrationRoot string

	numbered bool
	// legacy marks engines that may hold databases created before
	// migrations were tracked.
	legacy      bool
	tableExists string
	columns     string
}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{
	Name:          "sqlite",
	MigrationRoot: "sqlite",
	legacy:        true,
	tableExists:   "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	columns:       "SELECT name FROM pragma_table_info(?)",
}

// Postgres is the dialect for github.com/lib/pq.
var Postgres = Dialect{
	Name:          "postgres",
	MigrationRoot: "postgres",
	numbered:      true,
	tableExists: `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = ?`,
	columns: `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ?`,
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
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
