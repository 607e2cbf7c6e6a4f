package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshToken represents a stored refresh token revocation handle. Only the
// token id travels inside the signed JWT; the row is the source of truth for
// whether the token is still honored.
type RefreshToken struct {
	ID        string
	UserID    string
	Device    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type refreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository constructs repository.
func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepository{pool: pool}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	const query = `
        INSERT INTO refresh_tokens (id, user_id, device, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		token.ID,
		token.UserID,
		token.Device,
		token.ExpiresAt,
	).Scan(&token.CreatedAt)
}

func (r *refreshTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	const query = `
        SELECT id, user_id, device, expires_at, revoked_at, created_at
        FROM refresh_tokens WHERE id=$1`
	var token RefreshToken
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.Device,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, id string) error {
	const query = `
        UPDATE refresh_tokens SET revoked_at=NOW()
        WHERE id=$1 AND revoked_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	const query = `
        UPDATE refresh_tokens SET revoked_at=NOW()
        WHERE user_id=$1 AND revoked_at IS NULL`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}
