package deploy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRecordStore keeps one row per app environment.
type PostgresRecordStore struct {
	db     *sql.DB
	mu     sync.Mutex
	schema bool
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS app_deployments (
    app_id TEXT NOT NULL,
    environment TEXT NOT NULL,
    deployment_id TEXT NOT NULL,
    script_name TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    subdomain_url TEXT NOT NULL DEFAULT '',
    routes JSONB NOT NULL DEFAULT '[]'::jsonb,
    status TEXT NOT NULL,
    deployed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (app_id, environment)
);
`); err != nil {
		return err
	}
	s.schema = true
	return nil
}

func (s *PostgresRecordStore) Save(ctx context.Context, rec Record) error {
	if _, err := recordKey(rec.AppID, rec.Environment); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	routes := rec.Routes
	if routes == nil {
		routes = []string{}
	}
	routesJSON, err := json.Marshal(routes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO app_deployments (app_id, environment, deployment_id, script_name, url, subdomain_url, routes, status, deployed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (app_id, environment)
DO UPDATE SET deployment_id=EXCLUDED.deployment_id, script_name=EXCLUDED.script_name, url=EXCLUDED.url,
    subdomain_url=EXCLUDED.subdomain_url, routes=EXCLUDED.routes, status=EXCLUDED.status, deployed_at=EXCLUDED.deployed_at
`, strings.TrimSpace(rec.AppID), strings.TrimSpace(rec.Environment), rec.DeploymentID, rec.ScriptName,
		rec.URL, rec.SubdomainURL, string(routesJSON), rec.Status, rec.DeployedAt)
	return err
}

func (s *PostgresRecordStore) Latest(ctx context.Context, appID, env string) (Record, error) {
	if _, err := recordKey(appID, env); err != nil {
		return Record{}, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return Record{}, err
	}
	rec := Record{AppID: strings.TrimSpace(appID), Environment: strings.TrimSpace(env)}
	var routesJSON []byte
	err := s.db.QueryRowContext(ctx, `
SELECT deployment_id, script_name, url, subdomain_url, routes, status, deployed_at
FROM app_deployments WHERE app_id=$1 AND environment=$2`, rec.AppID, rec.Environment).
		Scan(&rec.DeploymentID, &rec.ScriptName, &rec.URL, &rec.SubdomainURL, &routesJSON, &rec.Status, &rec.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(routesJSON, &rec.Routes); err != nil {
		return Record{}, fmt.Errorf("decode routes: %w", err)
	}
	return rec, nil
}

func (s *PostgresRecordStore) Delete(ctx context.Context, appID, env string) error {
	if _, err := recordKey(appID, env); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_deployments WHERE app_id=$1 AND environment=$2`,
		strings.TrimSpace(appID), strings.TrimSpace(env))
	return err
}
