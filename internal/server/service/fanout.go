package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/notify"

	"github.com/google/uuid"
)

// FanoutResult reports the outcome of a group fanout: the grants created
// and, per recipient, whether the notification went out. Notification
// failures never invalidate the grants they announce.
type FanoutResult struct {
	ShareID  uuid.UUID
	Grants   []*database.GroupShare
	Notified int
	Failed   []string
}

// FanoutCoordinator turns one group share into per-recipient grants, each
// with its own token and expiry, and dispatches best-effort notifications.
type FanoutCoordinator struct {
	registry Registry
	issuer   *TokenIssuer
	notifier notify.Notifier
	baseURL  string
	ttl      time.Duration
}

// NewFanoutCoordinator creates a fanout coordinator.
func NewFanoutCoordinator(registry Registry, issuer *TokenIssuer, notifier notify.Notifier, baseURL string, ttl time.Duration) *FanoutCoordinator {
	return &FanoutCoordinator{
		registry: registry,
		issuer:   issuer,
		notifier: notifier,
		baseURL:  baseURL,
		ttl:      ttl,
	}
}

// Fanout creates one grant per recipient, all referencing the parent
// share's blob. If persisting any grant fails, grants created so far are
// rolled back and the error is surfaced; the caller owns rolling back the
// parent share itself.
func (fc *FanoutCoordinator) Fanout(ctx context.Context, parent *database.Share, recipients []string) (*FanoutResult, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := time.Now().UTC()
	grants := make([]*database.GroupShare, 0, len(recipients))
	for _, recipient := range recipients {
		token, err := fc.issuer.Issue(ctx)
		if err != nil {
			fc.rollback(ctx, grants)
			return nil, err
		}

		grant := &database.GroupShare{
			ID:             uuid.New(),
			ShareID:        parent.ID,
			RecipientEmail: recipient,
			Token:          token,
			CreatedAt:      now,
			ExpiresAt:      now.Add(fc.ttl),
		}
		if err := fc.registry.CreateGroupShare(ctx, grant); err != nil {
			fc.rollback(ctx, grants)
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		grants = append(grants, grant)
	}

	result := &FanoutResult{
		ShareID: parent.ID,
		Grants:  grants,
	}
	for _, grant := range grants {
		err := fc.notifier.Send(ctx, grant.RecipientEmail, notify.Notification{
			FileName:    parent.DisplayName,
			DownloadURL: fmt.Sprintf("%s/d/%s", fc.baseURL, grant.Token),
			ExpiresAt:   parent.ExpiresAt,
		})
		if err != nil {
			slog.Error("failed to notify recipient",
				"share_id", parent.ID,
				"recipient", grant.RecipientEmail,
				"error", err,
			)
			result.Failed = append(result.Failed, grant.RecipientEmail)
			continue
		}
		result.Notified++
	}

	slog.Info("group fanout complete",
		"share_id", parent.ID,
		"recipients", len(grants),
		"notified", result.Notified,
		"failed", len(result.Failed),
	)
	return result, nil
}

func (fc *FanoutCoordinator) rollback(ctx context.Context, grants []*database.GroupShare) {
	for _, grant := range grants {
		if err := fc.registry.DeleteGroupShare(ctx, grant.ID); err != nil && !isRecordGone(err) {
			slog.Error("failed to roll back grant", "grant_id", grant.ID, "error", err)
		}
	}
}
