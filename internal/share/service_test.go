package share_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linkvault/linkvault/internal/platform/cache/memory"
	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"
)

// fakeShareStore is a mutex-protected in-memory ShareStore with the same
// conditional-update semantics as the sqlite driver.
type fakeShareStore struct {
	mu         sync.Mutex
	shares     map[int64]*store.Share
	logs       []*store.AccessLogEntry
	nextID     int64
	collisions int // force ErrAlreadyExists on the next n creates

	tokenLookups int // number of GetActiveShareByToken calls
}

func newFakeShareStore() *fakeShareStore {
	return &fakeShareStore{shares: make(map[int64]*store.Share)}
}

func (f *fakeShareStore) CreateShare(ctx context.Context, s *store.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.collisions > 0 {
		f.collisions--
		return store.ErrAlreadyExists
	}
	for _, existing := range f.shares {
		if existing.Token == s.Token {
			return store.ErrAlreadyExists
		}
	}

	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	clone := *s
	f.shares[s.ID] = &clone
	return nil
}

func (f *fakeShareStore) GetShareByID(ctx context.Context, id int64) (*store.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.shares[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeShareStore) GetActiveShareByToken(ctx context.Context, token string) (*store.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokenLookups++
	for _, s := range f.shares {
		if s.Token == token && s.IsActive {
			clone := *s
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeShareStore) ListSharesByOwner(ctx context.Context, ownerID int64) ([]*store.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*store.Share
	for _, s := range f.shares {
		if s.OwnerID == ownerID {
			clone := *s
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (f *fakeShareStore) IncrementDownloadCount(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.shares[id]
	if !ok {
		return store.ErrNotFound
	}
	s.DownloadCount++
	s.UpdatedAt = time.Now()
	return nil
}

func (f *fakeShareStore) DeactivateShare(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.shares[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeShareStore) AppendAccessLog(ctx context.Context, entry *store.AccessLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *entry
	clone.AccessedAt = time.Now()
	f.logs = append(f.logs, &clone)
	return nil
}

func (f *fakeShareStore) ListAccessLogByShare(ctx context.Context, shareID int64) ([]*store.AccessLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*store.AccessLogEntry
	for _, e := range f.logs {
		if e.ShareID == shareID {
			clone := *e
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (f *fakeShareStore) logCount(shareID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.logs {
		if e.ShareID == shareID {
			n++
		}
	}
	return n
}

// brokenCache fails every operation, simulating a down cache medium.
type brokenCache struct{}

var errCacheDown = errors.New("cache medium unavailable")

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, errCacheDown }
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errCacheDown
}
func (brokenCache) Delete(ctx context.Context, key string) error        { return errCacheDown }
func (brokenCache) Exists(ctx context.Context, key string) (bool, error) { return false, errCacheDown }
func (brokenCache) Close() error                                         { return nil }

func newTestService(t *testing.T) (*share.Service, *fakeShareStore, *memory.Cache) {
	t.Helper()
	st := newFakeShareStore()
	c := memory.New(time.Hour, 0)
	t.Cleanup(func() { c.Close() })
	return share.NewService(st, c, nil), st, c
}

func testFile() share.FileRef {
	return share.FileRef{ID: "f1", Name: "a.pdf", Size: 1024, Hash: "abc123"}
}

func intPtr(v int) *int { return &v }

func TestCreateThenValidate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	if created.Token == "" || !created.IsActive {
		t.Fatalf("unexpected created share: %+v", created)
	}
	if created.ExpiresAt != nil {
		t.Error("share without expiry must have nil expires_at")
	}

	info, err := svc.ValidateToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if info.ShareID != created.ID || info.FileID != "f1" || info.OwnerID != 1 || !info.IsActive {
		t.Errorf("projection mismatch: %+v", info)
	}
}

func TestValidateToken_CacheHitSkipsStore(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Creation populated the cache; validation must not reach the store.
	if _, err := svc.ValidateToken(ctx, created.Token); err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if st.tokenLookups != 0 {
		t.Errorf("expected 0 store lookups on cache hit, got %d", st.tokenLookups)
	}
}

func TestValidateToken_CacheMissFallbackRepopulates(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Evict the entry; the next validation must fall back to the store.
	if err := c.Delete(ctx, share.TokenCacheKey(created.Token)); err != nil {
		t.Fatal(err)
	}

	info, err := svc.ValidateToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("ValidateToken after eviction failed: %v", err)
	}
	if info.ShareID != created.ID {
		t.Errorf("wrong share: %+v", info)
	}
	if st.tokenLookups != 1 {
		t.Errorf("expected 1 store lookup, got %d", st.tokenLookups)
	}

	// Repopulated: the follow-up validation is served from cache again.
	if _, err := svc.ValidateToken(ctx, created.Token); err != nil {
		t.Fatal(err)
	}
	if st.tokenLookups != 1 {
		t.Errorf("cache was not repopulated, store lookups = %d", st.tokenLookups)
	}
}

func TestValidateToken_UnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ValidateToken(context.Background(), "nonexistent-token")
	if !errors.Is(err, share.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateToken_LazyExpiry(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	svc.SetNowFunc(func() time.Time { return base })

	created, err := svc.CreateShare(ctx, 1, testFile(), false, intPtr(1))
	if err != nil {
		t.Fatal(err)
	}
	if created.ExpiresAt == nil || !created.ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("wrong expires_at: %v", created.ExpiresAt)
	}

	// Force the store path so expiry is actually checked.
	c.Delete(ctx, share.TokenCacheKey(created.Token))

	// Advance past the expiry instant.
	svc.SetNowFunc(func() time.Time { return base.Add(2 * time.Hour) })

	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired share, got %v", err)
	}

	// Lazy expiry flipped the durable row.
	row, err := st.GetShareByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.IsActive {
		t.Error("expired share must be deactivated in the store")
	}

	// Both paths now agree.
	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("expected ErrNotFound on revalidation, got %v", err)
	}
}

func TestValidateToken_ZeroHourExpiry(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, intPtr(0))
	if err != nil {
		t.Fatal(err)
	}

	c.Delete(ctx, share.TokenCacheKey(created.Token))

	// expires_at == creation instant, so by validation time it has passed.
	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	row, _ := st.GetShareByID(ctx, created.ID)
	if row.IsActive {
		t.Error("store must reflect is_active=false after zero-hour expiry")
	}
}

func TestRecordAccess_OneTimeScenario(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), true, nil)
	if err != nil {
		t.Fatal(err)
	}

	info, err := svc.ValidateToken(ctx, created.Token)
	if err != nil || !info.IsActive {
		t.Fatalf("ValidateToken = %+v, %v", info, err)
	}

	if err := svc.RecordAccess(ctx, created.ID, "192.0.2.7", "curl/8.0"); err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}

	row, _ := st.GetShareByID(ctx, created.ID)
	if row.IsActive {
		t.Error("one-time share must be inactive after first access")
	}
	if row.DownloadCount != 1 {
		t.Errorf("expected download_count 1, got %d", row.DownloadCount)
	}
	if st.logCount(created.ID) != 1 {
		t.Errorf("expected 1 access-log entry, got %d", st.logCount(created.ID))
	}

	// Cache entry was evicted synchronously, so validation fails everywhere.
	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("expected ErrNotFound after consumption, got %v", err)
	}
}

func TestRecordAccess_ReusableShareSurvives(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.ValidateToken(ctx, created.Token); err != nil {
			t.Fatalf("validation %d failed: %v", i, err)
		}
		if err := svc.RecordAccess(ctx, created.ID, "", ""); err != nil {
			t.Fatalf("RecordAccess %d failed: %v", i, err)
		}
	}

	info, err := svc.ValidateToken(ctx, created.Token)
	if err != nil || !info.IsActive {
		t.Fatalf("reusable share must stay active: %+v, %v", info, err)
	}

	row, _ := st.GetShareByID(ctx, created.ID)
	if row.DownloadCount != 3 {
		t.Errorf("expected download_count 3, got %d", row.DownloadCount)
	}
}

func TestRecordAccess_ConcurrentOneTimeConsumption(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), true, nil)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.RecordAccess(ctx, created.ID, "192.0.2.1", "test"); err != nil {
				t.Errorf("RecordAccess failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Terminal state: inactive, no matter how many callers raced.
	row, _ := st.GetShareByID(ctx, created.ID)
	if row.IsActive {
		t.Error("one-time share must end inactive under concurrency")
	}
	if row.DownloadCount < 1 {
		t.Errorf("expected download_count >= 1, got %d", row.DownloadCount)
	}

	// Idempotent terminal state: further attempts leave it inactive.
	if err := svc.RecordAccess(ctx, created.ID, "", ""); err != nil {
		t.Fatalf("post-consumption RecordAccess failed: %v", err)
	}
	row, _ = st.GetShareByID(ctx, created.ID)
	if row.IsActive {
		t.Error("share must stay inactive")
	}

	// No caller may still resolve the token: store says inactive and the
	// cache entry is gone.
	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if exists, _ := c.Exists(ctx, share.TokenCacheKey(created.Token)); exists {
		t.Error("cache entry must be evicted after consumption")
	}
}

func TestRecordAccess_VanishedShareStillLogged(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	// Share id 999 never existed; the attempt is still logged.
	if err := svc.RecordAccess(ctx, 999, "192.0.2.1", "curl"); err != nil {
		t.Fatalf("RecordAccess for vanished share failed: %v", err)
	}
	if st.logCount(999) != 1 {
		t.Errorf("expected 1 log entry for vanished share, got %d", st.logCount(999))
	}
}

func TestCreateShare_TokenCollisionRetries(t *testing.T) {
	st := newFakeShareStore()
	st.collisions = 2
	c := memory.New(time.Hour, 0)
	defer c.Close()
	svc := share.NewService(st, c, nil)

	created, err := svc.CreateShare(context.Background(), 1, testFile(), false, nil)
	if err != nil {
		t.Fatalf("CreateShare should survive 2 collisions: %v", err)
	}
	if created.Token == "" {
		t.Error("expected a token after retries")
	}
}

func TestCreateShare_TokenCollisionExhaustion(t *testing.T) {
	st := newFakeShareStore()
	st.collisions = 3
	c := memory.New(time.Hour, 0)
	defer c.Close()
	svc := share.NewService(st, c, nil)

	if _, err := svc.CreateShare(context.Background(), 1, testFile(), false, nil); err == nil {
		t.Fatal("expected error after exhausting collision retries")
	}
}

func TestDisableShare(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Non-owner: denied, state untouched.
	if err := svc.DisableShare(ctx, created.ID, 2); !errors.Is(err, share.ErrDenied) {
		t.Fatalf("expected ErrDenied for non-owner, got %v", err)
	}
	row, _ := st.GetShareByID(ctx, created.ID)
	if !row.IsActive {
		t.Error("denied disable must not deactivate the share")
	}

	// Unknown id: same error as a foreign share.
	if err := svc.DisableShare(ctx, 999, 2); !errors.Is(err, share.ErrDenied) {
		t.Fatalf("expected ErrDenied for unknown share, got %v", err)
	}

	// Owner: succeeds and evicts the cache entry.
	if err := svc.DisableShare(ctx, created.ID, 1); err != nil {
		t.Fatalf("owner disable failed: %v", err)
	}
	row, _ = st.GetShareByID(ctx, created.ID)
	if row.IsActive {
		t.Error("share must be inactive after disable")
	}
	if exists, _ := c.Exists(ctx, share.TokenCacheKey(created.Token)); exists {
		t.Error("cache entry must be evicted on disable")
	}
	if _, err := svc.ValidateToken(ctx, created.Token); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("disabled token must not validate, got %v", err)
	}

	// Idempotent: disabling again still succeeds, count untouched.
	before := row.DownloadCount
	if err := svc.DisableShare(ctx, created.ID, 1); err != nil {
		t.Fatalf("repeat disable failed: %v", err)
	}
	row, _ = st.GetShareByID(ctx, created.ID)
	if row.DownloadCount != before {
		t.Errorf("download_count changed on repeat disable: %d -> %d", before, row.DownloadCount)
	}
}

func TestListSharesByOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateShare(ctx, 1, testFile(), false, nil); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at
	}
	if _, err := svc.CreateShare(ctx, 2, testFile(), false, nil); err != nil {
		t.Fatal(err)
	}

	list, err := svc.ListSharesByOwner(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Error("expected newest-first ordering")
		}
	}
}

func TestListAccessLog_OwnerOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordAccess(ctx, created.ID, "192.0.2.1", "curl"); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.ListAccessLog(ctx, created.ID, 1)
	if err != nil {
		t.Fatalf("ListAccessLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}

	if _, err := svc.ListAccessLog(ctx, created.ID, 2); !errors.Is(err, share.ErrDenied) {
		t.Errorf("expected ErrDenied for non-owner, got %v", err)
	}
}

func TestCacheFailuresDegradeToStore(t *testing.T) {
	st := newFakeShareStore()
	svc := share.NewService(st, brokenCache{}, nil)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, 1, testFile(), false, nil)
	if err != nil {
		t.Fatalf("CreateShare must tolerate a dead cache: %v", err)
	}

	info, err := svc.ValidateToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("ValidateToken must fall back to the store: %v", err)
	}
	if info.ShareID != created.ID {
		t.Errorf("wrong share: %+v", info)
	}

	if err := svc.RecordAccess(ctx, created.ID, "", ""); err != nil {
		t.Fatalf("RecordAccess must tolerate a dead cache: %v", err)
	}
	if err := svc.DisableShare(ctx, created.ID, 1); err != nil {
		t.Fatalf("DisableShare must tolerate a dead cache: %v", err)
	}
}
