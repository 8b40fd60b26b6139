package database

import (
	"time"

	"github.com/google/uuid"
)

// ShareKind distinguishes the post-download deletion policy of a share.
type ShareKind string

const (
	// KindSingle shares are consumed by their first successful download.
	KindSingle ShareKind = "single"
	// KindGroup shares are served to many recipients and are only ever
	// removed by expiry.
	KindGroup ShareKind = "group"
)

// Share represents one uploaded blob retrievable through its token.
type Share struct {
	ID          uuid.UUID
	BlobKey     string
	DisplayName string
	MediaType   string
	SizeBytes   int64
	Token       string
	Kind        ShareKind
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// GroupShare grants one recipient access to a group share's blob
// through a token of its own.
type GroupShare struct {
	ID             uuid.UUID
	ShareID        uuid.UUID
	RecipientEmail string
	Token          string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Stats holds aggregate service statistics.
type Stats struct {
	TotalShares  int64
	ActiveShares int64
	ActiveGrants int64
	StorageUsed  int64
}
