package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrShareNotFound      = errors.New("share not found")
	ErrGroupShareNotFound = errors.New("group share not found")
)

// Repository provides the transactional record store for shares and
// group shares. Each operation is individually atomic; no cross-entity
// transaction is assumed by callers.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateShare inserts a new share record.
func (r *Repository) CreateShare(ctx context.Context, share *Share) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (
			id, blob_key, display_name, media_type, size_bytes,
			token, kind, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		share.ID,
		share.BlobKey,
		share.DisplayName,
		share.MediaType,
		share.SizeBytes,
		share.Token,
		share.Kind,
		share.CreatedAt,
		share.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

const shareColumns = `id, blob_key, display_name, media_type, size_bytes,
	token, kind, created_at, expires_at`

func scanShare(row pgx.Row) (*Share, error) {
	share := &Share{}
	err := row.Scan(
		&share.ID,
		&share.BlobKey,
		&share.DisplayName,
		&share.MediaType,
		&share.SizeBytes,
		&share.Token,
		&share.Kind,
		&share.CreatedAt,
		&share.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return share, nil
}

// GetShareByToken retrieves a share by its download token.
func (r *Repository) GetShareByToken(ctx context.Context, token string) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return share, nil
}

// ClaimShareByToken atomically removes a single-use share and returns its
// record. Of any number of concurrent callers holding the same token,
// exactly one gets the share; the rest get ErrShareNotFound. Group shares
// are never claimed.
func (r *Repository) ClaimShareByToken(ctx context.Context, token string) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx,
		"DELETE FROM shares WHERE token = $1 AND kind = $2 RETURNING "+shareColumns,
		token, KindSingle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to claim share: %w", err)
	}
	return share, nil
}

// GetShareByID retrieves a share by its primary key.
func (r *Repository) GetShareByID(ctx context.Context, id uuid.UUID) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return share, nil
}

// GetExpiredShares returns all shares whose expiry is before the given instant.
func (r *Repository) GetExpiredShares(ctx context.Context, before time.Time) ([]*Share, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE expires_at < $1", before)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// DeleteShare removes a share record. Returns ErrShareNotFound when the
// record is already gone, which callers racing the sweeper treat as success.
func (r *Repository) DeleteShare(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM shares WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// CreateGroupShare inserts a new per-recipient grant record.
func (r *Repository) CreateGroupShare(ctx context.Context, grant *GroupShare) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO group_shares (
			id, share_id, recipient_email, token, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		grant.ID,
		grant.ShareID,
		grant.RecipientEmail,
		grant.Token,
		grant.CreatedAt,
		grant.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group share: %w", err)
	}
	return nil
}

const groupShareColumns = `id, share_id, recipient_email, token, created_at, expires_at`

func scanGroupShare(row pgx.Row) (*GroupShare, error) {
	grant := &GroupShare{}
	err := row.Scan(
		&grant.ID,
		&grant.ShareID,
		&grant.RecipientEmail,
		&grant.Token,
		&grant.CreatedAt,
		&grant.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// GetGroupShareByToken retrieves a grant by its download token.
func (r *Repository) GetGroupShareByToken(ctx context.Context, token string) (*GroupShare, error) {
	grant, err := scanGroupShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+groupShareColumns+" FROM group_shares WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupShareNotFound
		}
		return nil, fmt.Errorf("failed to get group share: %w", err)
	}
	return grant, nil
}

// GetGroupSharesByShare returns all grants referencing the given share.
func (r *Repository) GetGroupSharesByShare(ctx context.Context, shareID uuid.UUID) ([]*GroupShare, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+groupShareColumns+" FROM group_shares WHERE share_id = $1", shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group shares: %w", err)
	}
	defer rows.Close()

	var grants []*GroupShare
	for rows.Next() {
		grant, err := scanGroupShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group share: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// GetExpiredGroupShares returns all grants whose expiry is before the given instant.
func (r *Repository) GetExpiredGroupShares(ctx context.Context, before time.Time) ([]*GroupShare, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+groupShareColumns+" FROM group_shares WHERE expires_at < $1", before)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired group shares: %w", err)
	}
	defer rows.Close()

	var grants []*GroupShare
	for rows.Next() {
		grant, err := scanGroupShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired group share: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// DeleteGroupShare removes a grant record. Returns ErrGroupShareNotFound
// when the record is already gone.
func (r *Repository) DeleteGroupShare(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM group_shares WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete group share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupShareNotFound
	}
	return nil
}

// TokenExists reports whether a token is already in use by either a share
// or a group share. Tokens are unique across both spaces.
func (r *Repository) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM shares WHERE token = $1)
			OR EXISTS(SELECT 1 FROM group_shares WHERE token = $1)
	`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate service statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > NOW()),
			COALESCE(SUM(size_bytes) FILTER (WHERE expires_at > NOW()), 0)
		FROM shares
	`).Scan(
		&stats.TotalShares,
		&stats.ActiveShares,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get share stats: %w", err)
	}

	err = r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FILTER (WHERE expires_at > NOW()) FROM group_shares",
	).Scan(&stats.ActiveGrants)
	if err != nil {
		return nil, fmt.Errorf("failed to get grant stats: %w", err)
	}
	return stats, nil
}
