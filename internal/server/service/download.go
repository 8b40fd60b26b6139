package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/storage"
)

// Download is a resolved, live share ready to be streamed to the caller.
// Body must be closed; for single-use shares, Close finalizes the record
// so the token cannot be served again.
type Download struct {
	Body      io.ReadCloser
	Name      string
	MediaType string
	Size      int64
	ExpiresAt time.Time
}

// ShareInfo is returned for metadata queries. Reading info never consumes
// a single-use share.
type ShareInfo struct {
	Name      string             `json:"name"`
	MediaType string             `json:"media_type"`
	Size      int64              `json:"size"`
	Kind      database.ShareKind `json:"kind"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// DownloadGate resolves tokens to live shares and applies the deletion
// policy: single-use shares are atomically claimed by their first download
// so concurrent requests cannot serve the same token twice, group blobs
// survive until the parent share expires.
type DownloadGate struct {
	registry Registry
	store    storage.Store
}

// NewDownloadGate creates a download gate.
func NewDownloadGate(registry Registry, store storage.Store) *DownloadGate {
	return &DownloadGate{registry: registry, store: store}
}

// resolution pairs a share with the grant it was reached through, if any.
type resolution struct {
	share *database.Share
	grant *database.GroupShare
}

// resolve looks the token up in both token spaces. A grant dereferences to
// its owning share; a grant whose share is gone is dropped as a leftover.
func (g *DownloadGate) resolve(ctx context.Context, token string) (*resolution, error) {
	share, err := g.registry.GetShareByToken(ctx, token)
	if err == nil {
		return &resolution{share: share}, nil
	}
	if !errors.Is(err, database.ErrShareNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	grant, err := g.registry.GetGroupShareByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrGroupShareNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	share, err = g.registry.GetShareByID(ctx, grant.ShareID)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			// Parent already deleted; the grant is a leftover.
			if err := g.registry.DeleteGroupShare(ctx, grant.ID); err != nil && !isRecordGone(err) {
				slog.Error("failed to drop orphaned grant", "grant_id", grant.ID, "error", err)
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &resolution{share: share, grant: grant}, nil
}

// Serve resolves a token and opens the blob for streaming. Single-use
// tokens are claimed first: the claim removes the record, so of any
// number of concurrent requests holding the same token exactly one is
// served. Tokens the claim does not know fall through to the group
// spaces, where the expiry check and the serve decision run against the
// single record snapshot read by resolve.
//
// Expired tokens are cleaned up on sight and reported as ErrNotFound:
// expired and absent are indistinguishable from the outside.
func (g *DownloadGate) Serve(ctx context.Context, token string) (*Download, error) {
	claimed, err := g.registry.ClaimShareByToken(ctx, token)
	switch {
	case err == nil:
		return g.serveClaimed(claimed)
	case errors.Is(err, database.ErrShareNotFound):
		// Not a single-use token; try the group spaces.
	default:
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	res, err := g.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if res.share.Kind == database.KindSingle && res.grant == nil {
		// Claimed by a concurrent request between the two lookups.
		return nil, ErrNotFound
	}

	// Expiry is anchored to the underlying share's lifetime for group
	// grants too, not the individual grant.
	if time.Now().UTC().After(res.share.ExpiresAt) {
		g.cleanupExpired(ctx, res)
		return nil, ErrNotFound
	}

	body, err := g.store.Open(res.share.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &Download{
		Body:      body,
		Name:      res.share.DisplayName,
		MediaType: res.share.MediaType,
		Size:      res.share.SizeBytes,
		ExpiresAt: res.share.ExpiresAt,
	}, nil
}

// serveClaimed opens the blob of a single-use share whose record the
// claim already removed. The claim is the consume; a failure past this
// point cannot make the token servable again.
func (g *DownloadGate) serveClaimed(share *database.Share) (*Download, error) {
	if time.Now().UTC().After(share.ExpiresAt) {
		if err := g.store.Delete(share.BlobKey); err != nil {
			slog.Error("failed to delete expired blob", "blob_key", share.BlobKey, "error", err)
		}
		return nil, ErrNotFound
	}

	body, err := g.store.Open(share.BlobKey)
	if err != nil {
		// The record is gone; reap the blob too so nothing leaks.
		if derr := g.store.Delete(share.BlobKey); derr != nil {
			slog.Error("failed to delete unreadable blob", "blob_key", share.BlobKey, "error", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &Download{
		Body:      &consumeOnClose{ReadCloser: body, gate: g, share: share},
		Name:      share.DisplayName,
		MediaType: share.MediaType,
		Size:      share.SizeBytes,
		ExpiresAt: share.ExpiresAt,
	}, nil
}

// Info returns share metadata without serving or consuming the blob.
func (g *DownloadGate) Info(ctx context.Context, token string) (*ShareInfo, error) {
	res, err := g.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(res.share.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &ShareInfo{
		Name:      res.share.DisplayName,
		MediaType: res.share.MediaType,
		Size:      res.share.SizeBytes,
		Kind:      res.share.Kind,
		CreatedAt: res.share.CreatedAt,
		ExpiresAt: res.share.ExpiresAt,
	}, nil
}

// cleanupExpired removes an expired record found during a lookup: blob
// first, then the share row, then the grant the lookup came through.
// Every step tolerates "already gone", since the sweeper may have won
// the race.
func (g *DownloadGate) cleanupExpired(ctx context.Context, res *resolution) {
	if err := g.store.Delete(res.share.BlobKey); err != nil {
		slog.Error("failed to delete expired blob", "blob_key", res.share.BlobKey, "error", err)
	}
	if err := g.registry.DeleteShare(ctx, res.share.ID); err != nil && !isRecordGone(err) {
		slog.Error("failed to delete expired share", "share_id", res.share.ID, "error", err)
	}
	if res.grant != nil {
		if err := g.registry.DeleteGroupShare(ctx, res.grant.ID); err != nil && !isRecordGone(err) {
			slog.Error("failed to delete expired grant", "grant_id", res.grant.ID, "error", err)
		}
	}
}

// consumeOnClose finishes a claimed single-use share when the response
// body is closed. The record was already removed by the claim; only the
// blob remains to clean up.
type consumeOnClose struct {
	io.ReadCloser
	gate  *DownloadGate
	share *database.Share
}

func (c *consumeOnClose) Close() error {
	closeErr := c.ReadCloser.Close()

	if err := c.gate.store.Delete(c.share.BlobKey); err != nil {
		slog.Error("failed to delete consumed blob", "blob_key", c.share.BlobKey, "error", err)
	}

	slog.Info("share consumed", "share_id", c.share.ID, "name", c.share.DisplayName)
	return closeErr
}
