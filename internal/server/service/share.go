package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/storage"

	"github.com/google/uuid"
)

// ShareService contains the business logic for creating shares from
// incoming upload streams.
type ShareService struct {
	registry Registry
	store    storage.Store
	issuer   *TokenIssuer
	policy   config.ShareConfig
	allowed  map[string]bool
}

// NewShareService creates a new share service.
func NewShareService(registry Registry, store storage.Store, issuer *TokenIssuer, policy config.ShareConfig) *ShareService {
	allowed := make(map[string]bool, len(policy.AllowedExtensions))
	for _, ext := range policy.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &ShareService{
		registry: registry,
		store:    store,
		issuer:   issuer,
		policy:   policy,
		allowed:  allowed,
	}
}

// Create streams an upload into the blob store and persists a share record
// for it. Any failure after bytes were written removes the partial blob
// before the error is surfaced.
func (s *ShareService) Create(ctx context.Context, filename, title string, data io.Reader, kind database.ShareKind) (*database.Share, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.allowed[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	displayName := sanitizeFilename(filename)
	if title != "" {
		displayName = sanitizeFilename(title + ext)
	}
	blobKey := uuid.New().String() + "_" + displayName

	size, err := s.streamToBlob(blobKey, data)
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(ctx)
	if err != nil {
		s.removeBlob(blobKey)
		return nil, err
	}

	now := time.Now().UTC()
	share := &database.Share{
		ID:          uuid.New(),
		BlobKey:     blobKey,
		DisplayName: displayName,
		MediaType:   mediaTypeFor(ext),
		SizeBytes:   size,
		Token:       token,
		Kind:        kind,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.policy.DefaultTTL),
	}

	if err := s.registry.CreateShare(ctx, share); err != nil {
		s.removeBlob(blobKey)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	slog.Info("share created",
		"share_id", share.ID,
		"name", share.DisplayName,
		"size", size,
		"kind", share.Kind,
		"expires_at", share.ExpiresAt,
	)
	return share, nil
}

// Remove deletes a share record and its blob. Used to roll back a group
// upload whose fanout failed. Both deletes tolerate "already gone".
func (s *ShareService) Remove(ctx context.Context, share *database.Share) {
	if err := s.store.Delete(share.BlobKey); err != nil {
		slog.Error("failed to delete blob during rollback", "blob_key", share.BlobKey, "error", err)
	}
	if err := s.registry.DeleteShare(ctx, share.ID); err != nil && !isRecordGone(err) {
		slog.Error("failed to delete share during rollback", "share_id", share.ID, "error", err)
	}
}

// GetStats returns aggregate service statistics.
func (s *ShareService) GetStats(ctx context.Context) (*database.Stats, error) {
	stats, err := s.registry.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return stats, nil
}

// streamToBlob copies the upload into the blob store in bounded chunks,
// aborting the moment the running count exceeds the size limit. On any
// failure the partial blob is removed before the error is returned.
func (s *ShareService) streamToBlob(blobKey string, data io.Reader) (int64, error) {
	sink, err := s.store.Create(blobKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	abort := func() {
		sink.Close()
		s.removeBlob(blobKey)
	}

	buf := make([]byte, s.policy.ChunkSize)
	var written int64
	for {
		n, readErr := data.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.policy.MaxUploadBytes {
				abort()
				return 0, ErrPayloadTooLarge
			}
			if _, err := sink.Write(buf[:n]); err != nil {
				abort()
				return 0, fmt.Errorf("%w: %v", ErrStorage, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			abort()
			return 0, fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}

	// For buffering backends Close is the actual upload.
	if err := sink.Close(); err != nil {
		s.removeBlob(blobKey)
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if written == 0 {
		s.removeBlob(blobKey)
		return 0, ErrEmptyPayload
	}
	return written, nil
}

func (s *ShareService) removeBlob(blobKey string) {
	if err := s.store.Delete(blobKey); err != nil {
		slog.Error("failed to remove partial blob", "blob_key", blobKey, "error", err)
	}
}

// mediaTypeFor maps a file extension to the media type used when serving.
func mediaTypeFor(ext string) string {
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}

	return name
}

// isRecordGone reports whether err means the record was already deleted,
// which racing deleters treat as success.
func isRecordGone(err error) bool {
	return err == nil ||
		errors.Is(err, database.ErrShareNotFound) ||
		errors.Is(err, database.ErrGroupShareNotFound)
}
