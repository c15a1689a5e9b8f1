// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, run migrations).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name.
	Name() string
}

// ShareStore defines operations for share and access-log persistence.
type ShareStore interface {
	// CreateShare persists a new share row. Returns ErrAlreadyExists when the
	// token collides with an existing row (unique index).
	CreateShare(ctx context.Context, share *Share) error

	// GetShareByID retrieves a share regardless of its active state.
	GetShareByID(ctx context.Context, id int64) (*Share, error)

	// GetActiveShareByToken retrieves a share by token, filtered to active
	// rows. Inactive and unknown tokens are both ErrNotFound.
	GetActiveShareByToken(ctx context.Context, token string) (*Share, error)

	// ListSharesByOwner returns all shares created by a user, newest first.
	ListSharesByOwner(ctx context.Context, ownerID int64) ([]*Share, error)

	// IncrementDownloadCount adds one to the share's download counter.
	IncrementDownloadCount(ctx context.Context, id int64) error

	// DeactivateShare flips is_active from true to false. The update is
	// conditional on the row still being active; the returned bool reports
	// whether this call performed the transition. Once inactive, a share
	// never becomes active again.
	DeactivateShare(ctx context.Context, id int64) (bool, error)

	// AppendAccessLog records an access attempt. Entries are never updated
	// or deleted.
	AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error

	// ListAccessLogByShare returns access-log entries for a share, newest first.
	ListAccessLogByShare(ctx context.Context, shareID int64) ([]*AccessLogEntry, error)
}

// UserStore defines operations for user persistence.
type UserStore interface {
	// CreateUser persists a new user. Returns ErrAlreadyExists when username
	// or email collides with an existing row.
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Share is the authoritative record for a share link.
type Share struct {
	ID            int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID       int64      `json:"owner_id" gorm:"index;not null"`
	FileID        string     `json:"file_id" gorm:"size:255;index;not null"`
	FileName      string     `json:"file_name" gorm:"size:500;not null"`
	FileSize      int64      `json:"file_size" gorm:"not null"`
	FileHash      string     `json:"file_hash" gorm:"size:64;not null"`
	Token         string     `json:"token" gorm:"size:255;uniqueIndex;not null"`
	IsActive      bool       `json:"is_active" gorm:"not null;default:true"`
	DownloadCount int64      `json:"download_count" gorm:"not null;default:0"`
	OneTimeAccess bool       `json:"one_time_access" gorm:"not null;default:false"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsExpired reports whether the share's expiry instant has passed.
// Shares without an expiry never expire.
func (s *Share) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// AccessLogEntry records one access attempt against a share. Append-only.
type AccessLogEntry struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ShareID    int64     `json:"share_id" gorm:"index;not null"`
	IPAddress  string    `json:"ip_address,omitempty" gorm:"size:45"` // IPv4 or IPv6
	UserAgent  string    `json:"user_agent,omitempty" gorm:"type:text"`
	AccessedAt time.Time `json:"accessed_at" gorm:"autoCreateTime"`
	Success    bool      `json:"success" gorm:"not null;default:true"`
}

// User is an account that can create shares.
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:255;uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
