// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/linkvault/linkvault/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "linkvault.db")

	// busy_timeout keeps concurrent row updates queued instead of failing
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	// AutoMigrate creates/updates tables based on model structs
	if err := db.AutoMigrate(
		&store.Share{},
		&store.AccessLogEntry{},
		&store.User{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ShareStore implementation

// CreateShare persists a new share row.
func (d *Driver) CreateShare(ctx context.Context, share *store.Share) error {
	result := d.db.WithContext(ctx).Create(share)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetShareByID retrieves a share by id regardless of active state.
func (d *Driver) GetShareByID(ctx context.Context, id int64) (*store.Share, error) {
	var share store.Share
	result := d.db.WithContext(ctx).First(&share, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &share, nil
}

// GetActiveShareByToken retrieves an active share by token.
func (d *Driver) GetActiveShareByToken(ctx context.Context, token string) (*store.Share, error) {
	var share store.Share
	result := d.db.WithContext(ctx).First(&share, "token = ? AND is_active = ?", token, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &share, nil
}

// ListSharesByOwner returns the owner's shares, newest first.
func (d *Driver) ListSharesByOwner(ctx context.Context, ownerID int64) ([]*store.Share, error) {
	var shares []*store.Share
	result := d.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&shares)
	if result.Error != nil {
		return nil, result.Error
	}
	return shares, nil
}

// IncrementDownloadCount adds one to the download counter.
func (d *Driver) IncrementDownloadCount(ctx context.Context, id int64) error {
	result := d.db.WithContext(ctx).
		Model(&store.Share{}).
		Where("id = ?", id).
		Update("download_count", gorm.Expr("download_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeactivateShare performs the conditional active-to-inactive transition.
// The WHERE clause on is_active makes the row-level update the serialization
// point: under concurrent calls exactly one observes RowsAffected == 1.
func (d *Driver) DeactivateShare(ctx context.Context, id int64) (bool, error) {
	result := d.db.WithContext(ctx).
		Model(&store.Share{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AppendAccessLog records an access attempt.
func (d *Driver) AppendAccessLog(ctx context.Context, entry *store.AccessLogEntry) error {
	return d.db.WithContext(ctx).Create(entry).Error
}

// ListAccessLogByShare returns access-log entries for a share, newest first.
func (d *Driver) ListAccessLogByShare(ctx context.Context, shareID int64) ([]*store.AccessLogEntry, error) {
	var entries []*store.AccessLogEntry
	result := d.db.WithContext(ctx).
		Where("share_id = ?", shareID).
		Order("accessed_at DESC").
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

// UserStore implementation

// CreateUser persists a new user.
func (d *Driver) CreateUser(ctx context.Context, user *store.User) error {
	result := d.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (d *Driver) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	var user store.User
	result := d.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (d *Driver) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var user store.User
	result := d.db.WithContext(ctx).First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email.
func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var user store.User
	result := d.db.WithContext(ctx).First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// Interface assertions
var (
	_ store.Driver     = (*Driver)(nil)
	_ store.ShareStore = (*Driver)(nil)
	_ store.UserStore  = (*Driver)(nil)
)
