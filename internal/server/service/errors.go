package service

import "errors"

// Sentinel errors for the service layer.
//
// ErrNotFound covers both absent and expired tokens: callers are never
// told which of the two they hit.
var (
	ErrNotFound        = errors.New("share not found")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrPayloadTooLarge = errors.New("file exceeds maximum allowed size")
	ErrEmptyPayload    = errors.New("empty files are not allowed")
	ErrNoRecipients    = errors.New("at least one recipient is required")
	ErrPersistence     = errors.New("registry operation failed")
	ErrStorage         = errors.New("blob storage operation failed")
)
