package template

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
	sqlite "modernc.org/sqlite"
)

const (
	driverName = "adfanout_sqlite"

	// SchemaVersion is the template schema version written to schema_meta.
	SchemaVersion = 1

	defaultQueryTimeout = 5 * time.Second
)

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is a local database file, or ":memory:".
	Path string
}

// SQLiteStore persists templates in a SQLite database.
//
// The template body is stored as a JSON document next to indexed id and
// name columns.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// OpenSQLite opens (and creates if needed) the database and applies the
// schema.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping template store: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers on local files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if strings.HasPrefix(dsn, "file:") {
		var busyTimeout int
		if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:      db,
		timeout: defaultQueryTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("template store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create template store dir: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

// Migrate creates the template schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS templates (
			template_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_name ON templates(name);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version = ? WHERE id = 1`, SchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SQLiteStore) Get(id string) (*Template, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.get(ctx, s.db, normalizeID(id))
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id string) (*Template, error) {
	var body, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT body, created_at, updated_at FROM templates WHERE template_id = ?`, id,
	).Scan(&body, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("query template: %w", err)
	}
	return decodeRow(body, createdAt, updatedAt)
}

func (s *SQLiteStore) Create(t *Template) (*Template, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	c := t.Clone()
	c.ID = normalizeID(c.ID)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}

	ctx, cancel := s.ctx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (template_id, name, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(template_id) DO NOTHING`,
		c.ID, c.Name, string(body), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTemplateExists
	}
	return c, nil
}

func (s *SQLiteStore) Update(t *Template) (*Template, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := t.Clone()
	c.ID = normalizeID(c.ID)
	existing, err := s.get(ctx, tx, c.ID)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()

	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE templates SET name = ?, body = ?, updated_at = ? WHERE template_id = ?`,
		c.Name, string(body), formatTime(c.UpdatedAt), c.ID,
	); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Delete(id string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE template_id = ?`, normalizeID(id))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (s *SQLiteStore) List() ([]Template, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT body, created_at, updated_at FROM templates ORDER BY name, template_id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Template, 0)
	for rows.Next() {
		var body, createdAt, updatedAt string
		if err := rows.Scan(&body, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t, err := decodeRow(body, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func decodeRow(body, createdAt, updatedAt string) (*Template, error) {
	var t Template
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
