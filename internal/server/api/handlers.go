package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/notify"
	"filedrop/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the filedrop API.
type Handler struct {
	shares   *service.ShareService
	fanout   *service.FanoutCoordinator
	gate     *service.DownloadGate
	notifier notify.Notifier
	db       *database.DB
	baseURL  string
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(shares *service.ShareService, fanout *service.FanoutCoordinator, gate *service.DownloadGate, notifier notify.Notifier, db *database.DB, baseURL string) *Handler {
	return &Handler{
		shares:   shares,
		fanout:   fanout,
		gate:     gate,
		notifier: notifier,
		db:       db,
		baseURL:  baseURL,
	}
}

// uploadResponse is returned after a successful upload.
type uploadResponse struct {
	Token       string    `json:"token"`
	DownloadURL string    `json:"download_url"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) uploadResponseFor(share *database.Share) uploadResponse {
	return uploadResponse{
		Token:       share.Token,
		DownloadURL: fmt.Sprintf("%s/d/%s", h.baseURL, share.Token),
		Name:        share.DisplayName,
		Size:        share.SizeBytes,
		ExpiresAt:   share.ExpiresAt,
	}
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with a "file" field and an optional "title" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	share, err := h.shares.Create(
		c.Request().Context(),
		fileHeader.Filename,
		c.FormValue("title"),
		src,
		database.KindSingle,
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, h.uploadResponseFor(share))
}

// HandleEmailShare handles POST /api/share/email.
// Creates a single-use share and emails the download link to one recipient.
func (h *Handler) HandleEmailShare(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	recipient, err := parseEmail(c.FormValue("email"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": fmt.Sprintf("invalid recipient: %v", err),
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	ctx := c.Request().Context()
	share, err := h.shares.Create(ctx, fileHeader.Filename, c.FormValue("title"), src, database.KindSingle)
	if err != nil {
		return mapServiceError(c, err)
	}

	// Notification is best-effort: the share stays valid either way, the
	// link can still be passed along out-of-band.
	notified := true
	err = h.notifier.Send(ctx, recipient, notify.Notification{
		FileName:    share.DisplayName,
		DownloadURL: fmt.Sprintf("%s/d/%s", h.baseURL, share.Token),
		ExpiresAt:   share.ExpiresAt,
		OneTime:     true,
	})
	if err != nil {
		notified = false
	}

	resp := h.uploadResponseFor(share)
	return c.JSON(http.StatusCreated, echo.Map{
		"share":     resp,
		"recipient": recipient,
		"notified":  notified,
	})
}

// groupRecipient describes one recipient's grant in a group upload response.
type groupRecipient struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleGroupUpload handles POST /api/group.
// Accepts a multipart form with "file", optional "title", and "members":
// a comma-separated list of recipient email addresses. One grant with its
// own token is created per recipient.
func (h *Handler) HandleGroupUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	recipients, invalid := parseMembers(c.FormValue("members"))
	if len(invalid) > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "invalid email addresses",
			"invalid": invalid,
		})
	}
	if len(recipients) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "no valid email addresses provided",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	ctx := c.Request().Context()
	share, err := h.shares.Create(ctx, fileHeader.Filename, c.FormValue("title"), src, database.KindGroup)
	if err != nil {
		return mapServiceError(c, err)
	}

	result, err := h.fanout.Fanout(ctx, share, recipients)
	if err != nil {
		// A failed fanout leaves no usable grants; undo the upload too.
		h.shares.Remove(ctx, share)
		return mapServiceError(c, err)
	}

	out := make([]groupRecipient, 0, len(result.Grants))
	for _, grant := range result.Grants {
		out = append(out, groupRecipient{
			Email:     grant.RecipientEmail,
			Token:     grant.Token,
			ExpiresAt: grant.ExpiresAt,
		})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"share_id":            result.ShareID,
		"name":                share.DisplayName,
		"recipients_count":    len(result.Grants),
		"recipients":          out,
		"notified":            result.Notified,
		"notification_failed": result.Failed,
	})
}

// HandleDownload handles GET /d/:token.
// Streams the blob as an attachment. Single-use shares are consumed by a
// successful download; absent and expired tokens both return 404.
func (h *Handler) HandleDownload(c echo.Context) error {
	token := c.Param("token")

	dl, err := h.gate.Serve(c.Request().Context(), token)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.Body.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, dl.Name))
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	return c.Stream(http.StatusOK, dl.MediaType, dl.Body)
}

// HandleInfo handles GET /api/info/:token.
// Returns share metadata without serving (or consuming) the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.gate.Info(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.shares.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_shares":       stats.TotalShares,
		"active_shares":      stats.ActiveShares,
		"active_grants":      stats.ActiveGrants,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP
// responses. Expired and missing tokens map to the same 404.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "share not found"})
	case errors.Is(err, service.ErrUnsupportedType):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrPayloadTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrEmptyPayload):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty files are not allowed"})
	case errors.Is(err, service.ErrNoRecipients):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "at least one recipient is required"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// parseEmail validates a single address and returns its bare form.
func parseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("%s is not a valid address", raw)
	}
	return addr.Address, nil
}

// parseMembers splits a comma-separated recipient list, returning the
// valid addresses and any entries that failed validation.
func parseMembers(raw string) (valid []string, invalid []string) {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			invalid = append(invalid, part)
			continue
		}
		valid = append(valid, addr.Address)
	}
	return valid, invalid
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
