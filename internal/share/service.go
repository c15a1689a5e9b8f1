// Package share implements the share-link lifecycle engine: token issuance,
// cache-first validation with durable-store fallback, lazy expiry, one-time
// consumption, and access-event recording.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkvault/linkvault/internal/platform/cache"
	"github.com/linkvault/linkvault/internal/platform/logutil"
	"github.com/linkvault/linkvault/internal/store"
)

var (
	// ErrNotFound covers unknown, revoked, consumed, and expired tokens alike.
	// Callers outside the engine never learn which of those it was.
	ErrNotFound = errors.New("share not found")

	// ErrDenied is returned when a disable request names a share the caller
	// does not own. Deliberately indistinguishable from a missing share.
	ErrDenied = errors.New("share not found or access denied")
)

const (
	// tokenCacheTTL bounds how long a cache entry may outlive the durable row.
	tokenCacheTTL = time.Hour

	// createRetries bounds token regeneration on a uniqueness collision.
	// With 256-bit tokens a single collision is already astronomically rare.
	createRetries = 3

	tokenKeyPrefix = "share_token:"
)

// FileRef identifies the stored object a share points at. The engine never
// opens the bytes; it only carries the reference.
type FileRef struct {
	ID   string `json:"file_id"`
	Name string `json:"file_name"`
	Size int64  `json:"file_size"`
	Hash string `json:"file_hash"`
}

// Info is the compact projection served on the validation hot path.
type Info struct {
	ShareID       int64  `json:"share_id"`
	FileID        string `json:"file_id"`
	OwnerID       int64  `json:"owner_id"`
	OneTimeAccess bool   `json:"one_time_access"`
	IsActive      bool   `json:"is_active"`
}

// cacheEntry is the serialized form stored under share_token:<token>.
// It additionally carries the token so eviction never needs a store lookup.
type cacheEntry struct {
	Info
	Token string `json:"token"`
}

// Service orchestrates the durable share store and the fast-path cache.
// The cache is a derived, expendable view: every cache failure degrades to a
// miss or a no-op, and the durable store alone serves correctness.
type Service struct {
	shares store.ShareStore
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a share lifecycle service.
func NewService(shares store.ShareStore, c cache.Cache, logger *slog.Logger) *Service {
	return &Service{
		shares: shares,
		cache:  c,
		logger: logutil.NoopIfNil(logger),
		now:    time.Now,
	}
}

// CreateShare issues a new share link for a stored file.
// expiresInHours == nil means the share never expires.
func (s *Service) CreateShare(ctx context.Context, ownerID int64, file FileRef, oneTimeAccess bool, expiresInHours *int) (*store.Share, error) {
	var expiresAt *time.Time
	if expiresInHours != nil {
		t := s.now().Add(time.Duration(*expiresInHours) * time.Hour)
		expiresAt = &t
	}

	var created *store.Share
	for attempt := 0; attempt < createRetries; attempt++ {
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}

		record := &store.Share{
			OwnerID:       ownerID,
			FileID:        file.ID,
			FileName:      file.Name,
			FileSize:      file.Size,
			FileHash:      file.Hash,
			Token:         token,
			IsActive:      true,
			OneTimeAccess: oneTimeAccess,
			ExpiresAt:     expiresAt,
		}

		err = s.shares.CreateShare(ctx, record)
		if err == nil {
			created = record
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}
		s.logger.Warn("share token collision, regenerating", "attempt", attempt+1)
	}
	if created == nil {
		return nil, fmt.Errorf("token collision persisted after %d attempts", createRetries)
	}

	s.cacheSet(ctx, created)

	return created, nil
}

// ValidateToken resolves a token to its share projection.
// A cache hit never touches the durable store. On a miss the durable store
// decides, expiry is detected lazily, and the cache is repopulated.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Info, error) {
	if entry, ok := s.cacheGet(ctx, token); ok {
		info := entry.Info
		return &info, nil
	}

	record, err := s.shares.GetActiveShareByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if record.IsExpired(s.now()) {
		// Lazy expiry: the only place the system notices a past expires_at.
		if _, err := s.shares.DeactivateShare(ctx, record.ID); err != nil {
			return nil, err
		}
		s.cacheEvict(ctx, record.Token)
		s.logger.Info("share expired on validation", "share_id", record.ID)
		return nil, ErrNotFound
	}

	s.cacheSet(ctx, record)

	return &Info{
		ShareID:       record.ID,
		FileID:        record.FileID,
		OwnerID:       record.OwnerID,
		OneTimeAccess: record.OneTimeAccess,
		IsActive:      true,
	}, nil
}

// RecordAccess increments the download counter, consumes one-time shares, and
// appends an access-log entry. The log entry is written even when the share
// row vanished between validation and recording; that skew is benign.
func (s *Service) RecordAccess(ctx context.Context, shareID int64, ipAddress, userAgent string) error {
	record, err := s.shares.GetShareByID(ctx, shareID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		record = nil
	case err != nil:
		return err
	}

	if record != nil {
		if err := s.shares.IncrementDownloadCount(ctx, record.ID); err != nil {
			return fmt.Errorf("failed to record download: %w", err)
		}

		if record.OneTimeAccess {
			won, err := s.shares.DeactivateShare(ctx, record.ID)
			if err != nil {
				return fmt.Errorf("failed to consume one-time share: %w", err)
			}
			// Evict regardless of who won: the entry must not outlive the
			// deactivation no matter which caller gets here first.
			s.cacheEvict(ctx, record.Token)
			if won {
				s.logger.Info("one-time share consumed", "share_id", record.ID)
			}
		}
	}

	entry := &store.AccessLogEntry{
		ShareID:   shareID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	}
	if err := s.shares.AppendAccessLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append access log: %w", err)
	}

	return nil
}

// DisableShare revokes a share. Only the owner may do so; a missing share and
// a foreign share produce the same ErrDenied so callers cannot probe for the
// existence of other users' shares. Disabling an already-inactive share
// succeeds (idempotent).
func (s *Service) DisableShare(ctx context.Context, shareID, ownerID int64) error {
	record, err := s.shares.GetShareByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("disable refused", "share_id", shareID, "owner_id", ownerID, "reason", "not_found")
			return ErrDenied
		}
		return err
	}

	if record.OwnerID != ownerID {
		s.logger.Info("disable refused", "share_id", shareID, "owner_id", ownerID, "reason", "owner_mismatch")
		return ErrDenied
	}

	if _, err := s.shares.DeactivateShare(ctx, record.ID); err != nil {
		return err
	}
	s.cacheEvict(ctx, record.Token)

	s.logger.Info("share disabled", "share_id", record.ID, "owner_id", ownerID)
	return nil
}

// ListSharesByOwner returns all shares created by a user, newest first.
func (s *Service) ListSharesByOwner(ctx context.Context, ownerID int64) ([]*store.Share, error) {
	return s.shares.ListSharesByOwner(ctx, ownerID)
}

// ListAccessLog returns the access history of one of the owner's shares.
// Ownership is checked with the same information-hiding rule as DisableShare.
func (s *Service) ListAccessLog(ctx context.Context, shareID, ownerID int64) ([]*store.AccessLogEntry, error) {
	record, err := s.shares.GetShareByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDenied
		}
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, ErrDenied
	}
	return s.shares.ListAccessLogByShare(ctx, shareID)
}

// cacheSet writes the projection for an active share. Failures are logged and
// swallowed; the durable store remains the source of truth.
func (s *Service) cacheSet(ctx context.Context, record *store.Share) {
	entry := cacheEntry{
		Info: Info{
			ShareID:       record.ID,
			FileID:        record.FileID,
			OwnerID:       record.OwnerID,
			OneTimeAccess: record.OneTimeAccess,
			IsActive:      true,
		},
		Token: record.Token,
	}

	value, err := json.Marshal(entry)
	if err != nil {
		s.logger.Debug("failed to encode cache entry", "share_id", record.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, tokenKeyPrefix+record.Token, value, tokenCacheTTL); err != nil {
		s.logger.Debug("cache set failed", "share_id", record.ID, "error", err)
	}
}

// cacheGet reads the projection for a token. Any failure, including a value
// that does not decode, is treated as a miss.
func (s *Service) cacheGet(ctx context.Context, token string) (*cacheEntry, bool) {
	value, err := s.cache.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
			s.logger.Debug("cache get failed", "error", err)
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		s.logger.Debug("undecodable cache entry, treating as miss", "error", err)
		return nil, false
	}
	return &entry, true
}

// cacheEvict removes the token's entry. Eviction happens synchronously on
// every deactivation the engine performs, bounding post-revocation staleness
// to zero.
func (s *Service) cacheEvict(ctx context.Context, token string) {
	if err := s.cache.Delete(ctx, tokenKeyPrefix+token); err != nil {
		s.logger.Debug("cache delete failed", "error", err)
	}
}
