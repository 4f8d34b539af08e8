package store

import (
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	driverName string
	blobType   string
	positional bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driverName: "sqlite", blobType: "BLOB"}
	sqlite3Dialect  = dialect{name: "sqlite3", driverName: "sqlite3", blobType: "BLOB"}
	postgresDialect = dialect{name: "postgres", driverName: "postgres", blobType: "BYTEA", positional: true}
)

func dialectFor(driver string) (dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqliteDialect, true
	case "sqlite3":
		return sqlite3Dialect, true
	case "postgres", "postgresql", "pq":
		return postgresDialect, true
	}
	return dialect{}, false
}

// rebind rewrites ? placeholders to $N for drivers that need positional ones.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d dialect) isSQLite() bool {
	return d.name == "sqlite" || d.name == "sqlite3"
}

func (d dialect) columnsQuery() string {
	if d.isSQLite() {
		return `SELECT name FROM pragma_table_info('items')`
	}
	return `SELECT column_name FROM information_schema.columns WHERE table_name = 'items' AND table_schema = current_schema()`
}

func (d dialect) schema(groupColumn string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			` + groupColumn + ` TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			analysis TEXT NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_group ON items(` + groupColumn + `, created_at)`,
		`CREATE TABLE IF NOT EXISTS group_states (
			group_id TEXT PRIMARY KEY,
			journal TEXT NOT NULL,
			artifact ` + d.blobType + `,
			source_fingerprint TEXT NOT NULL DEFAULT '',
			last_updated BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_history (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_history_group ON group_history(group_id, created_at)`,
	}
}
