package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/KafClaw/groupjournal/internal/apperr"
)

const defaultHistoryLimit = 20

// Options selects and configures the backing database.
type Options struct {
	// Driver is sqlite (pure Go), sqlite3 (cgo) or postgres.
	Driver string
	// DSN is a file path or ":memory:" for the SQLite drivers and a
	// connection string for postgres.
	DSN string
	// GroupColumn forces the owner column name on the items table.
	GroupColumn string
}

// SQLStore implements ContentStore over database/sql.
type SQLStore struct {
	db          *sql.DB
	dialect     dialect
	groupColumn string
	now         func() time.Time
}

var _ ContentStore = (*SQLStore)(nil)

// Open connects to the configured database, creates missing tables and
// detects the items owner column.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	d, ok := dialectFor(opts.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
	dsn, err := buildDSN(d, opts.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", d.name, err)
	}
	if d.isSQLite() {
		// A single connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s store: %w", d.name, err)
	}

	col, _, err := ResolveGroupColumn(ctx, db, d, opts.GroupColumn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resolve group column: %w", err)
	}
	for _, stmt := range d.schema(col) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: d, groupColumn: col, now: time.Now}, nil
}

func buildDSN(d dialect, dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	switch d.name {
	case "sqlite":
		if dsn == "" || dsn == ":memory:" {
			return "file::memory:?_pragma=foreign_keys(1)", nil
		}
		if strings.HasPrefix(dsn, "file:") {
			return dsn, nil
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return "", fmt.Errorf("failed to create store dir: %w", err)
		}
		return "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case "sqlite3":
		if dsn == "" || dsn == ":memory:" {
			return ":memory:", nil
		}
		if strings.Contains(dsn, "?") {
			return dsn, nil
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return "", fmt.Errorf("failed to create store dir: %w", err)
		}
		return dsn + "?_busy_timeout=5000&_journal_mode=WAL", nil
	default:
		if dsn == "" {
			return "", errors.New("postgres store requires a DSN")
		}
		return dsn, nil
	}
}

// GroupColumn returns the resolved owner column of the items table.
func (s *SQLStore) GroupColumn() string { return s.groupColumn }

// Driver returns the dialect name.
func (s *SQLStore) Driver() string { return s.dialect.name }

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLStore) itemColumns() string {
	return "id, " + s.groupColumn + ", title, body, analysis, created_at, updated_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var (
		it               Item
		analysis         string
		created, updated int64
	)
	if err := r.Scan(&it.ID, &it.GroupID, &it.Title, &it.Text, &analysis, &created, &updated); err != nil {
		return nil, err
	}
	it.Analysis = decodeAnalysis(analysis)
	it.CreatedAt = fromNanos(created)
	it.UpdatedAt = fromNanos(updated)
	return &it, nil
}

func decodeAnalysis(raw string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]json.RawMessage{}
	}
	return out
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+s.itemColumns()+" FROM items WHERE id = ?"), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "item", ID: id}
	}
	if err != nil {
		return nil, wrap("get item", err)
	}
	return it, nil
}

func (s *SQLStore) UpsertItem(ctx context.Context, item Item) (*Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("upsert item", err)
	}
	defer tx.Rollback()

	var existingGroup string
	err = tx.QueryRowContext(ctx, s.q("SELECT "+s.groupColumn+" FROM items WHERE id = ?"), item.ID).Scan(&existingGroup)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, wrap("upsert item", err)
	case existingGroup != item.GroupID:
		return nil, apperr.Invalid("groupId", fmt.Sprintf("item %q already belongs to group %q", item.ID, existingGroup))
	}

	now := s.now().UTC()
	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO items (id, `+s.groupColumn+`, title, body, analysis, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at`),
		item.ID, item.GroupID, item.Title, item.Text, created.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, wrap("upsert item", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("upsert item", err)
	}
	return s.GetItem(ctx, item.ID)
}

func (s *SQLStore) SetItemAnalysis(ctx context.Context, itemID string, analysis map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("set item analysis", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, s.q("SELECT analysis FROM items WHERE id = ?"), itemID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &apperr.NotFoundError{Kind: "item", ID: itemID}
	}
	if err != nil {
		return wrap("set item analysis", err)
	}

	merged := decodeAnalysis(raw)
	for kind, v := range analysis {
		if IsEmptyResult(v) {
			if _, ok := merged[kind]; ok {
				continue
			}
			v = json.RawMessage(`{}`)
		}
		merged[kind] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return wrap("set item analysis", err)
	}
	if _, err := tx.ExecContext(ctx, s.q("UPDATE items SET analysis = ?, updated_at = ? WHERE id = ?"),
		string(data), s.now().UTC().UnixNano(), itemID); err != nil {
		return wrap("set item analysis", err)
	}
	return wrap("set item analysis", tx.Commit())
}

func (s *SQLStore) CountItemsInGroup(ctx context.Context, groupID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM items WHERE "+s.groupColumn+" = ?"), groupID).Scan(&n)
	if err != nil {
		return 0, wrap("count items", err)
	}
	return n, nil
}

func (s *SQLStore) ListItemsInGroup(ctx context.Context, groupID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+s.itemColumns()+" FROM items WHERE "+s.groupColumn+" = ? ORDER BY created_at ASC, id ASC"), groupID)
	if err != nil {
		return nil, wrap("list items", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrap("list items", err)
		}
		items = append(items, *it)
	}
	return items, wrap("list items", rows.Err())
}

func (s *SQLStore) GetGroupState(ctx context.Context, groupID string) (*GroupState, error) {
	var (
		st      GroupState
		journal string
		last    int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT group_id, journal, artifact, source_fingerprint, last_updated
		FROM group_states WHERE group_id = ?`), groupID).
		Scan(&st.GroupID, &journal, &st.Artifact, &st.SourceFingerprint, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get group state", err)
	}
	st.Journal = json.RawMessage(journal)
	st.LastUpdated = fromNanos(last)
	return &st, nil
}

func (s *SQLStore) SetGroupState(ctx context.Context, state GroupState) error {
	if len(state.Journal) == 0 {
		return wrap("set group state", errors.New("journal must not be empty"))
	}
	last := state.LastUpdated
	if last.IsZero() {
		last = s.now()
	}
	var artifact any
	if len(state.Artifact) > 0 {
		artifact = state.Artifact
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO group_states (group_id, journal, artifact, source_fingerprint, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			journal = excluded.journal,
			artifact = excluded.artifact,
			source_fingerprint = excluded.source_fingerprint,
			last_updated = excluded.last_updated`),
		state.GroupID, string(state.Journal), artifact, state.SourceFingerprint, last.UTC().UnixNano())
	return wrap("set group state", err)
}

func (s *SQLStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO group_history (id, group_id, snapshot, source, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		entry.ID, entry.GroupID, string(entry.Snapshot), entry.Source, entry.CreatedAt.UTC().UnixNano())
	return wrap("append history", err)
}

func (s *SQLStore) ListHistory(ctx context.Context, groupID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, group_id, snapshot, source, created_at
		FROM group_history WHERE group_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), groupID, limit)
	if err != nil {
		return nil, wrap("list history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			snapshot string
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &snapshot, &e.Source, &created); err != nil {
			return nil, wrap("list history", err)
		}
		e.Snapshot = json.RawMessage(snapshot)
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, wrap("list history", rows.Err())
}

func (s *SQLStore) ListGroupsAtOrAboveThreshold(ctx context.Context, threshold int) ([]GroupCount, error) {
	if threshold < 1 {
		threshold = 1
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+s.groupColumn+`, COUNT(*) FROM items
		GROUP BY `+s.groupColumn+` HAVING COUNT(*) >= ? ORDER BY `+s.groupColumn), threshold)
	if err != nil {
		return nil, wrap("list groups", err)
	}
	defer rows.Close()

	var out []GroupCount
	for rows.Next() {
		var gc GroupCount
		if err := rows.Scan(&gc.GroupID, &gc.Count); err != nil {
			return nil, wrap("list groups", err)
		}
		out = append(out, gc)
	}
	return out, wrap("list groups", rows.Err())
}
