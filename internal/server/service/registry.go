package service

import (
	"context"
	"time"

	"filedrop/internal/server/database"

	"github.com/google/uuid"
)

// Registry is the transactional record store the share lifecycle runs
// against. Each operation is individually atomic; delete operations
// report "already gone" through the database package's not-found errors
// so racing callers can treat them as success.
type Registry interface {
	CreateShare(ctx context.Context, share *database.Share) error
	GetShareByToken(ctx context.Context, token string) (*database.Share, error)
	ClaimShareByToken(ctx context.Context, token string) (*database.Share, error)
	GetShareByID(ctx context.Context, id uuid.UUID) (*database.Share, error)
	GetExpiredShares(ctx context.Context, before time.Time) ([]*database.Share, error)
	DeleteShare(ctx context.Context, id uuid.UUID) error

	CreateGroupShare(ctx context.Context, grant *database.GroupShare) error
	GetGroupShareByToken(ctx context.Context, token string) (*database.GroupShare, error)
	GetGroupSharesByShare(ctx context.Context, shareID uuid.UUID) ([]*database.GroupShare, error)
	GetExpiredGroupShares(ctx context.Context, before time.Time) ([]*database.GroupShare, error)
	DeleteGroupShare(ctx context.Context, id uuid.UUID) error

	TokenExists(ctx context.Context, token string) (bool, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

var _ Registry = (*database.Repository)(nil)
