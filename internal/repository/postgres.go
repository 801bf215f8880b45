package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracknest/tracknest-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ PrincipalRepository = (*PostgresPrincipalRepo)(nil)
	_ KeyRepository       = (*PostgresKeyRepo)(nil)
)

// PostgresPrincipalRepo implements PrincipalRepository on pgx.
type PostgresPrincipalRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPrincipalRepo(pool *pgxpool.Pool) *PostgresPrincipalRepo {
	return &PostgresPrincipalRepo{pool: pool}
}

const principalColumns = `id, email, email_verified, password_hash, name, avatar_url, roles, status, created_at, updated_at`

func (r *PostgresPrincipalRepo) GetByID(ctx context.Context, principalID int64) (domain.Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, principalID)
	return scanPrincipal(row)
}

func (r *PostgresPrincipalRepo) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = $1`, email)
	return scanPrincipal(row)
}

func (r *PostgresPrincipalRepo) Create(ctx context.Context, p domain.Principal) (domain.Principal, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = "active"
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO principals (id, email, email_verified, password_hash, name, avatar_url, roles, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Email, p.EmailVerified, p.PasswordHash, p.Name, p.AvatarURL, rolesToStrings(p.Roles), p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("create principal: %w", err)
	}
	return p, nil
}

func scanPrincipal(row pgx.Row) (domain.Principal, error) {
	var p domain.Principal
	var roles []string
	err := row.Scan(&p.ID, &p.Email, &p.EmailVerified, &p.PasswordHash, &p.Name, &p.AvatarURL, &roles, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Principal{}, err
	}
	p.Roles = rolesFromStrings(roles)
	return p, nil
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func rolesFromStrings(values []string) []domain.Role {
	out := make([]domain.Role, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Role(v))
	}
	return out
}

// PostgresKeyRepo implements KeyRepository on pgx.
type PostgresKeyRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{pool: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) (domain.KeyRecord, error) {
	var k domain.KeyRecord
	err := r.pool.QueryRow(ctx,
		`SELECT id, principal_id, purpose, kid, secret, algorithm, created_at, revoked_at
		 FROM key_records
		 WHERE principal_id = $1 AND purpose = $2 AND revoked_at IS NULL`,
		principalID, string(purpose)).
		Scan(&k.ID, &k.PrincipalID, &k.Purpose, &k.KID, &k.Secret, &k.Algorithm, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		return domain.KeyRecord{}, err
	}
	return k, nil
}

// CreateKey revokes the active record for the same (principal,
// purpose) and inserts the replacement inside one transaction. The
// partial unique index on (principal_id, purpose) WHERE revoked_at IS
// NULL backs this up against racing writers.
func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.KeyRecord) (domain.KeyRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("begin key rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE key_records SET revoked_at = $1
		 WHERE principal_id = $2 AND purpose = $3 AND revoked_at IS NULL`,
		time.Now().UTC(), key.PrincipalID, string(key.Purpose)); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("revoke superseded key: %w", err)
	}

	key.CreatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO key_records (id, principal_id, purpose, kid, secret, algorithm, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.PrincipalID, string(key.Purpose), key.KID, key.Secret, key.Algorithm, key.CreatedAt); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("insert key record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("commit key rotation: %w", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) RevokeActiveKey(ctx context.Context, principalID int64, purpose domain.KeyPurpose) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE key_records SET revoked_at = $1
		 WHERE principal_id = $2 AND purpose = $3 AND revoked_at IS NULL`,
		time.Now().UTC(), principalID, string(purpose))
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	return nil
}
