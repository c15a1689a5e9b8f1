// Package testutil provides a shared conformance suite for store drivers.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linkvault/linkvault/internal/store"
)

// TestShare returns a populated share for driver tests.
// Token and file id are randomized so tests can create many without collisions.
func TestShare(ownerID int64) *store.Share {
	return &store.Share{
		OwnerID:       ownerID,
		FileID:        uuid.NewString(),
		FileName:      "report.pdf",
		FileSize:      1024,
		FileHash:      "abc123",
		Token:         uuid.NewString() + uuid.NewString(),
		IsActive:      true,
		OneTimeAccess: false,
	}
}

// RunDriverTests runs the ShareStore and UserStore conformance suite against
// a driver created from cfg.
func RunDriverTests(t *testing.T, name string, cfg *store.DriverConfig) {
	t.Helper()
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", name, err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", name, err)
	}
	defer driver.Close()

	shares, ok := driver.(store.ShareStore)
	if !ok {
		t.Fatalf("%s driver does not implement ShareStore", name)
	}
	users, ok := driver.(store.UserStore)
	if !ok {
		t.Fatalf("%s driver does not implement UserStore", name)
	}

	t.Run("ShareCRUD", func(t *testing.T) { testShareCRUD(t, ctx, shares) })
	t.Run("TokenUniqueness", func(t *testing.T) { testTokenUniqueness(t, ctx, shares) })
	t.Run("ActiveTokenFilter", func(t *testing.T) { testActiveTokenFilter(t, ctx, shares) })
	t.Run("ConditionalDeactivate", func(t *testing.T) { testConditionalDeactivate(t, ctx, shares) })
	t.Run("DownloadCount", func(t *testing.T) { testDownloadCount(t, ctx, shares) })
	t.Run("OwnerListOrdering", func(t *testing.T) { testOwnerListOrdering(t, ctx, shares) })
	t.Run("AccessLog", func(t *testing.T) { testAccessLog(t, ctx, shares) })
	t.Run("UserCRUD", func(t *testing.T) { testUserCRUD(t, ctx, users) })
}

func testShareCRUD(t *testing.T, ctx context.Context, s store.ShareStore) {
	share := TestShare(1)
	if err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	if share.ID == 0 {
		t.Error("expected assigned id after create")
	}

	got, err := s.GetShareByID(ctx, share.ID)
	if err != nil {
		t.Fatalf("GetShareByID failed: %v", err)
	}
	if got.Token != share.Token || got.FileID != share.FileID {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if !got.IsActive {
		t.Error("new share should be active")
	}

	if _, err := s.GetShareByID(ctx, 999999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func testTokenUniqueness(t *testing.T, ctx context.Context, s store.ShareStore) {
	first := TestShare(1)
	if err := s.CreateShare(ctx, first); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	dup := TestShare(2)
	dup.Token = first.Token
	if err := s.CreateShare(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on token collision, got %v", err)
	}
}

func testActiveTokenFilter(t *testing.T, ctx context.Context, s store.ShareStore) {
	share := TestShare(1)
	if err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	got, err := s.GetActiveShareByToken(ctx, share.Token)
	if err != nil {
		t.Fatalf("GetActiveShareByToken failed: %v", err)
	}
	if got.ID != share.ID {
		t.Errorf("expected share %d, got %d", share.ID, got.ID)
	}

	if _, err := s.GetActiveShareByToken(ctx, "no-such-token"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}

	// Deactivated shares are invisible through the token lookup
	if _, err := s.DeactivateShare(ctx, share.ID); err != nil {
		t.Fatalf("DeactivateShare failed: %v", err)
	}
	if _, err := s.GetActiveShareByToken(ctx, share.Token); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for inactive token, got %v", err)
	}
}

func testConditionalDeactivate(t *testing.T, ctx context.Context, s store.ShareStore) {
	share := TestShare(1)
	if err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	won, err := s.DeactivateShare(ctx, share.ID)
	if err != nil {
		t.Fatalf("DeactivateShare failed: %v", err)
	}
	if !won {
		t.Error("first deactivation should win")
	}

	won, err = s.DeactivateShare(ctx, share.ID)
	if err != nil {
		t.Fatalf("second DeactivateShare failed: %v", err)
	}
	if won {
		t.Error("second deactivation must not win")
	}

	got, err := s.GetShareByID(ctx, share.ID)
	if err != nil {
		t.Fatalf("GetShareByID failed: %v", err)
	}
	if got.IsActive {
		t.Error("share should be inactive")
	}
}

func testDownloadCount(t *testing.T, ctx context.Context, s store.ShareStore) {
	share := TestShare(1)
	if err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementDownloadCount(ctx, share.ID); err != nil {
			t.Fatalf("IncrementDownloadCount failed: %v", err)
		}
	}

	got, err := s.GetShareByID(ctx, share.ID)
	if err != nil {
		t.Fatalf("GetShareByID failed: %v", err)
	}
	if got.DownloadCount != 3 {
		t.Errorf("expected download count 3, got %d", got.DownloadCount)
	}

	if err := s.IncrementDownloadCount(ctx, 999999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func testOwnerListOrdering(t *testing.T, ctx context.Context, s store.ShareStore) {
	const ownerID = int64(42)

	var created []*store.Share
	for i := 0; i < 3; i++ {
		share := TestShare(ownerID)
		share.FileName = fmt.Sprintf("doc-%d.txt", i)
		// Explicit timestamps keep the ordering deterministic even when the
		// driver's clock has coarse resolution.
		share.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.CreateShare(ctx, share); err != nil {
			t.Fatalf("CreateShare failed: %v", err)
		}
		created = append(created, share)
	}

	list, err := s.ListSharesByOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("ListSharesByOwner failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(list))
	}
	// Newest first
	if list[0].FileName != "doc-2.txt" || list[2].FileName != "doc-0.txt" {
		t.Errorf("wrong ordering: %s .. %s", list[0].FileName, list[2].FileName)
	}

	empty, err := s.ListSharesByOwner(ctx, 999999)
	if err != nil {
		t.Fatalf("ListSharesByOwner for unknown owner failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %d entries", len(empty))
	}
}

func testAccessLog(t *testing.T, ctx context.Context, s store.ShareStore) {
	share := TestShare(1)
	if err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}

	entries := []*store.AccessLogEntry{
		{ShareID: share.ID, IPAddress: "192.0.2.1", UserAgent: "curl/8.0", Success: true},
		{ShareID: share.ID, IPAddress: "2001:db8::1", Success: true},
	}
	for _, e := range entries {
		if err := s.AppendAccessLog(ctx, e); err != nil {
			t.Fatalf("AppendAccessLog failed: %v", err)
		}
	}

	got, err := s.ListAccessLogByShare(ctx, share.ID)
	if err != nil {
		t.Fatalf("ListAccessLogByShare failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	for _, e := range got {
		if e.ShareID != share.ID || !e.Success {
			t.Errorf("unexpected entry: %+v", e)
		}
	}
}

func testUserCRUD(t *testing.T, ctx context.Context, s store.UserStore) {
	user := &store.User{
		Username:     "alice-" + uuid.NewString()[:8],
		Email:        uuid.NewString()[:8] + "@example.com",
		PasswordHash: "$2a$10$notarealhash",
		IsActive:     true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == 0 {
		t.Error("expected assigned user id")
	}

	byID, err := s.GetUserByID(ctx, user.ID)
	if err != nil || byID.Username != user.Username {
		t.Fatalf("GetUserByID = %+v, %v", byID, err)
	}

	byName, err := s.GetUserByUsername(ctx, user.Username)
	if err != nil || byName.ID != user.ID {
		t.Fatalf("GetUserByUsername = %+v, %v", byName, err)
	}

	byEmail, err := s.GetUserByEmail(ctx, user.Email)
	if err != nil || byEmail.ID != user.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", byEmail, err)
	}

	dup := &store.User{
		Username:     user.Username,
		Email:        "other@example.com",
		PasswordHash: "x",
	}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on duplicate username, got %v", err)
	}
}
