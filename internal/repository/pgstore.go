package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// PGStore is the relational AccountRepository implementation (§6 schema:
// accounts, tokens, quotas, events, requests, app_settings,
// thinking_signatures, session_signatures — this type owns accounts and quotas;
// the rest are owned by their respective components' own persistence, out
// of scope for AccountRepository). Grounded on the teacher's
// internal/store/postgresstore.go (pgx-backed store, schema-qualified
// tables, context-scoped queries), switched from database/sql+pgx-stdlib to
// pgx's native pgxpool for connection pooling.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to dsn and pings the server; it does not check or
// create the schema (EnsureSchema does that).
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// EnsureSchema creates the accounts/quotas tables if absent.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL,
			tier            INTEGER NOT NULL,
			project_id      TEXT NOT NULL,
			proxy_disabled  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS quotas (
			account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			family          TEXT NOT NULL,
			used            BIGINT NOT NULL,
			quota_limit     BIGINT NOT NULL,
			reset_at        TIMESTAMPTZ,
			protected_until TIMESTAMPTZ,
			PRIMARY KEY (account_id, family)
		);
	`)
	if err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) List(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, tier, project_id, proxy_disabled, created_at, updated_at FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("repository: list accounts: %w", err)
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		acc := &model.Account{}
		if err := rows.Scan(&acc.ID, &acc.Email, &acc.Tier, &acc.ProjectID, &acc.ProxyDisabled, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan account: %w", err)
		}
		quotas, err := s.loadQuotas(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		acc.Quotas = quotas
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, id string) (*model.Account, error) {
	acc := &model.Account{}
	err := s.pool.QueryRow(ctx, `SELECT id, email, tier, project_id, proxy_disabled, created_at, updated_at FROM accounts WHERE id = $1`, id).
		Scan(&acc.ID, &acc.Email, &acc.Tier, &acc.ProjectID, &acc.ProxyDisabled, &acc.CreatedAt, &acc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get account %q: %w", id, err)
	}
	quotas, err := s.loadQuotas(ctx, id)
	if err != nil {
		return nil, err
	}
	acc.Quotas = quotas
	return acc, nil
}

func (s *PGStore) loadQuotas(ctx context.Context, accountID string) (map[string]model.Quota, error) {
	rows, err := s.pool.Query(ctx, `SELECT family, used, quota_limit, reset_at, protected_until FROM quotas WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("repository: load quotas for %q: %w", accountID, err)
	}
	defer rows.Close()

	out := make(map[string]model.Quota)
	for rows.Next() {
		var family string
		var q model.Quota
		if err := rows.Scan(&family, &q.Used, &q.Limit, &q.ResetAt, &q.ProtectedUntil); err != nil {
			return nil, fmt.Errorf("repository: scan quota: %w", err)
		}
		out[family] = q
	}
	return out, rows.Err()
}

func (s *PGStore) Upsert(ctx context.Context, acc *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, email, tier, project_id, proxy_disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, tier = EXCLUDED.tier, project_id = EXCLUDED.project_id,
			proxy_disabled = EXCLUDED.proxy_disabled, updated_at = EXCLUDED.updated_at
	`, acc.ID, acc.Email, acc.Tier, acc.ProjectID, acc.ProxyDisabled, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: upsert account %q: %w", acc.ID, err)
	}

	for family, q := range acc.Quotas {
		_, err = tx.Exec(ctx, `
			INSERT INTO quotas (account_id, family, used, quota_limit, reset_at, protected_until)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id, family) DO UPDATE SET
				used = EXCLUDED.used, quota_limit = EXCLUDED.quota_limit,
				reset_at = EXCLUDED.reset_at, protected_until = EXCLUDED.protected_until
		`, acc.ID, family, q.Used, q.Limit, q.ResetAt, q.ProtectedUntil)
		if err != nil {
			return fmt.Errorf("repository: upsert quota %q/%q: %w", acc.ID, family, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdateQuota(ctx context.Context, accountID, family string, q model.Quota) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quotas (account_id, family, used, quota_limit, reset_at, protected_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, family) DO UPDATE SET
			used = EXCLUDED.used, quota_limit = EXCLUDED.quota_limit,
			reset_at = EXCLUDED.reset_at, protected_until = EXCLUDED.protected_until
	`, accountID, family, q.Used, q.Limit, q.ResetAt, q.ProtectedUntil)
	if err != nil {
		return fmt.Errorf("repository: update quota %q/%q: %w", accountID, family, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: delete account %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetProxyDisabled(ctx context.Context, id string, disabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET proxy_disabled = $2, updated_at = now() WHERE id = $1`, id, disabled)
	if err != nil {
		return fmt.Errorf("repository: set proxy_disabled %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
