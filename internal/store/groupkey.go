package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DefaultGroupColumn is used when a fresh schema is created.
const DefaultGroupColumn = "group_id"

// groupColumnCandidates lists owner column names in detection order.
var groupColumnCandidates = []string{"group_id", "owner_id", "user_id"}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ResolveGroupColumn picks the column that holds an item's group key.
// An explicit name wins when it exists in the table. When the table does not
// exist yet the explicit name, or DefaultGroupColumn, is used for creation.
func ResolveGroupColumn(ctx context.Context, db *sql.DB, d dialect, explicit string) (string, bool, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" && !identRe.MatchString(explicit) {
		return "", false, fmt.Errorf("invalid group column %q", explicit)
	}

	rows, err := db.QueryContext(ctx, d.columnsQuery())
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", false, err
		}
		existing[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}

	if len(existing) == 0 {
		if explicit != "" {
			return explicit, false, nil
		}
		return DefaultGroupColumn, false, nil
	}
	if explicit != "" {
		if !existing[strings.ToLower(explicit)] {
			return "", true, fmt.Errorf("group column %q not present on items table", explicit)
		}
		return explicit, true, nil
	}
	for _, c := range groupColumnCandidates {
		if existing[c] {
			return c, true, nil
		}
	}
	return "", true, fmt.Errorf("items table has none of %s", strings.Join(groupColumnCandidates, ", "))
}
