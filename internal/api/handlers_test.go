package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linkvault/linkvault/internal/blobstore"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/identity"
	"github.com/linkvault/linkvault/internal/platform/logutil"
	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"
)

type fakeUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[int64]*store.User)}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return store.ErrAlreadyExists
		}
	}
	f.nextID++
	user.ID = f.nextID
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeShareService struct {
	shares       map[string]*share.Info // token -> info
	byOwner      map[int64][]*store.Share
	accessed     []int64
	disabled     []int64
	denyDisable  bool
	recordErr    error
	validateErr  error
	createdShare *store.Share
}

func newFakeShareService() *fakeShareService {
	return &fakeShareService{
		shares:  make(map[string]*share.Info),
		byOwner: make(map[int64][]*store.Share),
	}
}

func (f *fakeShareService) CreateShare(ctx context.Context, ownerID int64, file share.FileRef, oneTimeAccess bool, expiresInHours *int) (*store.Share, error) {
	record := &store.Share{
		ID:            1,
		OwnerID:       ownerID,
		FileID:        file.ID,
		FileName:      file.Name,
		FileSize:      file.Size,
		FileHash:      file.Hash,
		Token:         "test-token",
		IsActive:      true,
		OneTimeAccess: oneTimeAccess,
	}
	f.createdShare = record
	return record, nil
}

func (f *fakeShareService) ValidateToken(ctx context.Context, token string) (*share.Info, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	info, ok := f.shares[token]
	if !ok {
		return nil, share.ErrNotFound
	}
	return info, nil
}

func (f *fakeShareService) RecordAccess(ctx context.Context, shareID int64, ipAddress, userAgent string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.accessed = append(f.accessed, shareID)
	return nil
}

func (f *fakeShareService) DisableShare(ctx context.Context, shareID, ownerID int64) error {
	if f.denyDisable {
		return share.ErrDenied
	}
	f.disabled = append(f.disabled, shareID)
	return nil
}

func (f *fakeShareService) ListSharesByOwner(ctx context.Context, ownerID int64) ([]*store.Share, error) {
	return f.byOwner[ownerID], nil
}

func (f *fakeShareService) ListAccessLog(ctx context.Context, shareID, ownerID int64) ([]*store.AccessLogEntry, error) {
	if f.denyDisable {
		return nil, share.ErrDenied
	}
	return []*store.AccessLogEntry{{ShareID: shareID, IPAddress: "10.0.0.1", Success: true}}, nil
}

type fakeBlobClient struct {
	uploadErr   error
	downloadErr error
	content     []byte
	fileName    string
}

func (f *fakeBlobClient) Upload(ctx context.Context, content []byte, fileName string) (*blobstore.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &blobstore.UploadResult{
		FileID:   "file-1",
		FileName: fileName,
		FileSize: int64(len(content)),
		FileHash: "hash-1",
	}, nil
}

func (f *fakeBlobClient) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.content, f.fileName, nil
}

type testEnv struct {
	handlers *Handlers
	shares   *fakeShareService
	blobs    *fakeBlobClient
	users    *fakeUserStore
	router   chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserStore()
	shares := newFakeShareService()
	blobs := &fakeBlobClient{content: []byte("file-bytes"), fileName: "doc.pdf"}

	h := &Handlers{
		Users:  users,
		Auth:   identity.NewUserAuth(4),
		Tokens: identity.NewTokenIssuer("test-secret", 0),
		Shares: shares,
		Blobs:  blobs,
		Cfg:    config.DefaultConfig(),
		Logger: logutil.Noop(),
	}

	r := chi.NewRouter()
	r.Post("/api/auth/register", h.HandleRegister)
	r.Post("/api/auth/login", h.HandleLogin)
	r.Get("/api/auth/me", h.HandleMe)
	r.Post("/api/files/upload", h.HandleUpload)
	r.Post("/api/files/share", h.HandleCreateShare)
	r.Get("/api/files/shares", h.HandleListShares)
	r.Get("/api/files/shares/{id}/access-log", h.HandleShareAccessLog)
	r.Delete("/api/files/shares/{id}", h.HandleDisableShare)
	r.Get("/api/files/download/{token}", h.HandleDownload)

	return &testEnv{handlers: h, shares: shares, blobs: blobs, users: users, router: r}
}

// do performs a request, optionally as an authenticated user.
func (e *testEnv) do(req *http.Request, userID int64) *httptest.ResponseRecorder {
	if userID != 0 {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestHandleRegister(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "Password1",
	}))
	rec := env.do(req, 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var user userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatal(err)
	}
	if user.Username != "alice" || user.ID == 0 {
		t.Errorf("unexpected user response %+v", user)
	}
	if strings.Contains(rec.Body.String(), "Password1") {
		t.Error("response leaked the password")
	}
}

func TestHandleRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "short",
	}))
	rec := env.do(req, 0)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ReasonWeakPassword) {
		t.Errorf("expected weak_password reason, got %s", rec.Body.String())
	}
}

func TestHandleRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]string{"username": "carol", "email": "carol@example.com", "password": "Password1"}
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, body)), 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, body)), 0)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, map[string]string{
		"username": "dave", "email": "dave@example.com", "password": "Password1",
	})), 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{
		"username": "dave", "password": "Password1",
	})), 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var tok tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken == "" || tok.TokenType != "bearer" {
		t.Errorf("unexpected token response %+v", tok)
	}

	// Issued token must verify back to the user.
	userID, err := env.handlers.Tokens.Verify(tok.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if userID != 1 {
		t.Errorf("token names user %d, want 1", userID)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	env.do(httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, map[string]string{
		"username": "eve", "email": "eve@example.com", "password": "Password1",
	})), 0)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{
		"username": "eve", "password": "WrongPass9",
	})), 0)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleMe(t *testing.T) {
	env := newTestEnv(t)

	env.do(httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, map[string]string{
		"username": "frank", "email": "frank@example.com", "password": "Password1",
	})), 0)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var user userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatal(err)
	}
	if user.Username != "frank" {
		t.Errorf("unexpected user %+v", user)
	}

	// Without an authenticated user the handler refuses.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), 0)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without auth, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result blobstore.UploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.FileID != "file-1" || result.FileSize != 5 {
		t.Errorf("unexpected upload result %+v", result)
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartBody(t, "wrong-field", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req, 1)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.handlers.Cfg.Upload.MaxBytes = 16

	body, contentType := multipartBody(t, "file", "big.bin", bytes.Repeat([]byte("x"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req, 1)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHandleUpload_UpstreamDown(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.uploadErr = errors.New("connection refused")

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req, 1)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHandleCreateShare(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/files/share", jsonBody(t, map[string]any{
		"file_id": "file-1", "file_name": "doc.pdf", "file_size": 1024,
		"file_hash": "abc", "one_time_access": true,
	}))
	rec := env.do(req, 7)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token    string `json:"token"`
		OwnerID  int64  `json:"owner_id"`
		ShareURL string `json:"share_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OwnerID != 7 {
		t.Errorf("expected owner 7, got %d", resp.OwnerID)
	}
	if !strings.HasSuffix(resp.ShareURL, "/api/files/download/"+resp.Token) {
		t.Errorf("share_url %q does not end with the download path", resp.ShareURL)
	}
	if !env.shares.createdShare.OneTimeAccess {
		t.Error("one_time_access flag was not forwarded")
	}
}

func TestHandleCreateShare_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/files/share",
		jsonBody(t, map[string]any{"file_name": "doc.pdf"})), 7)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateShare_NegativeExpiry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/files/share", jsonBody(t, map[string]any{
		"file_id": "file-1", "file_name": "doc.pdf", "expires_in_hours": -1,
	})), 7)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleListShares(t *testing.T) {
	env := newTestEnv(t)
	env.shares.byOwner[7] = []*store.Share{
		{ID: 2, OwnerID: 7, Token: "tok-2", FileName: "b.txt"},
		{ID: 1, OwnerID: 7, Token: "tok-1", FileName: "a.txt"},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files/shares", nil), 7)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var shares []shareResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &shares); err != nil {
		t.Fatal(err)
	}
	if len(shares) != 2 || shares[0].ID != 2 {
		t.Errorf("unexpected share list %+v", shares)
	}
}

func TestHandleShareAccessLog_Denied(t *testing.T) {
	env := newTestEnv(t)
	env.shares.denyDisable = true

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files/shares/5/access-log", nil), 7)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for denied access log, got %d", rec.Code)
	}
}

func TestHandleDisableShare(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/files/shares/5", nil), 7)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(env.shares.disabled) != 1 || env.shares.disabled[0] != 5 {
		t.Errorf("expected share 5 disabled, got %v", env.shares.disabled)
	}

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/files/shares/abc", nil), 7)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", rec.Code)
	}

	env.shares.denyDisable = true
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/files/shares/5", nil), 7)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for denied disable, got %d", rec.Code)
	}
}

func TestHandleDownload(t *testing.T) {
	env := newTestEnv(t)
	env.shares.shares["good-token"] = &share.Info{
		ShareID: 9, FileID: "file-9", OwnerID: 7, IsActive: true,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/good-token", nil)
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.RemoteAddr = "192.0.2.10:55555"

	rec := env.do(req, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "file-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "doc.pdf") {
		t.Errorf("Content-Disposition %q missing file name", cd)
	}
	if len(env.shares.accessed) != 1 || env.shares.accessed[0] != 9 {
		t.Errorf("expected access recorded for share 9, got %v", env.shares.accessed)
	}
}

func TestHandleDownload_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files/download/missing", nil), 0)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(env.shares.accessed) != 0 {
		t.Error("no access should be recorded for an invalid token")
	}
}

func TestHandleDownload_RecordFailureBlocksServing(t *testing.T) {
	env := newTestEnv(t)
	env.shares.shares["tok"] = &share.Info{ShareID: 3, FileID: "file-3"}
	env.shares.recordErr = fmt.Errorf("store down")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files/download/tok", nil), 0)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when recording fails, got %d", rec.Code)
	}
	if rec.Body.String() == "file-bytes" {
		t.Error("content must not be served when access recording fails")
	}
}

func TestHandleDownload_UpstreamDown(t *testing.T) {
	env := newTestEnv(t)
	env.shares.shares["tok"] = &share.Info{ShareID: 3, FileID: "file-3"}
	env.blobs.downloadErr = errors.New("connection refused")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files/download/tok", nil), 0)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:55555"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Errorf("clientIP = %q, want 192.0.2.10", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.5" {
		t.Errorf("clientIP with XFF = %q, want 203.0.113.5", got)
	}
}
