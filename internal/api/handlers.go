package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/linkvault/linkvault/internal/blobstore"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/identity"
	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"
)

// ShareService is what the handlers need from the share lifecycle engine.
type ShareService interface {
	CreateShare(ctx context.Context, ownerID int64, file share.FileRef, oneTimeAccess bool, expiresInHours *int) (*store.Share, error)
	ValidateToken(ctx context.Context, token string) (*share.Info, error)
	RecordAccess(ctx context.Context, shareID int64, ipAddress, userAgent string) error
	DisableShare(ctx context.Context, shareID, ownerID int64) error
	ListSharesByOwner(ctx context.Context, ownerID int64) ([]*store.Share, error)
	ListAccessLog(ctx context.Context, shareID, ownerID int64) ([]*store.AccessLogEntry, error)
}

// BlobClient is what the handlers need from the file service client.
type BlobClient interface {
	Upload(ctx context.Context, content []byte, fileName string) (*blobstore.UploadResult, error)
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Users  store.UserStore
	Auth   *identity.UserAuth
	Tokens *identity.TokenIssuer
	Shares ShareService
	Blobs  BlobClient
	Cfg    *config.Config
	Logger *slog.Logger
}

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the authenticated user's id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the authenticated user's id, if present.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// requireUserID extracts the authenticated user or writes a 401.
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, ReasonUnauthenticated, "authentication required")
	}
	return id, ok
}

// clientIP returns the originating client address for access logging.
// The first X-Forwarded-For entry wins when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
