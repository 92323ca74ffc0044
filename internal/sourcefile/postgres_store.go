package sourcefile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	db     *sql.DB
	mu     sync.Mutex
	schema bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a pgx-backed database handle.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS app_files (
    id SERIAL PRIMARY KEY,
    app_id TEXT NOT NULL,
    path TEXT NOT NULL,
    content BYTEA NOT NULL DEFAULT ''::bytea,
    file_type TEXT NOT NULL DEFAULT 'other',
    size BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE(app_id, path)
);
CREATE INDEX IF NOT EXISTS idx_app_files_app_id ON app_files(app_id);
`); err != nil {
		return err
	}
	s.schema = true
	return nil
}

func (s *PostgresStore) List(ctx context.Context, appID string) ([]File, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("app_id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path, content, file_type FROM app_files WHERE app_id=$1 ORDER BY path`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f := File{AppID: appID}
		var kind string
		if err := rows.Scan(&f.Path, &f.Content, &kind); err != nil {
			return nil, err
		}
		f.Kind = Kind(kind)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *PostgresStore) Get(ctx context.Context, appID, path string) (File, error) {
	if s == nil {
		return File{}, fmt.Errorf("store is nil")
	}
	appID = strings.TrimSpace(appID)
	path = NormalizePath(path)
	if appID == "" {
		return File{}, fmt.Errorf("app_id is required")
	}
	if path == "" {
		return File{}, fmt.Errorf("path is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return File{}, err
	}
	f := File{AppID: appID, Path: path}
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT content, file_type FROM app_files WHERE app_id=$1 AND path=$2`, appID, path).Scan(&f.Content, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	f.Kind = Kind(kind)
	return f, nil
}

func (s *PostgresStore) Put(ctx context.Context, file File) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	file, err := normalizeFile(file)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO app_files (app_id, path, content, file_type, size, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (app_id, path)
DO UPDATE SET content=EXCLUDED.content, file_type=EXCLUDED.file_type, size=EXCLUDED.size, updated_at=EXCLUDED.updated_at
`, file.AppID, file.Path, file.Content, string(file.Kind), int64(len(file.Content)), time.Now())
	return err
}
