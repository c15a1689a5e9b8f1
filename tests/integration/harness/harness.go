// Package harness provides test utilities for integration tests.
package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linkvault/linkvault/internal/blobstore"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/identity"
	"github.com/linkvault/linkvault/internal/platform/cache"
	"github.com/linkvault/linkvault/internal/server"
	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"

	// Register cache and store drivers (triggers init() registration)
	_ "github.com/linkvault/linkvault/internal/platform/cache/loader"
	_ "github.com/linkvault/linkvault/internal/store/sqlite"
)

// TestServer wraps a running server instance plus a stub file service.
type TestServer struct {
	Server   *server.Server
	Config   *config.Config
	BaseURL  string
	TempDir  string
	FileSvc  *FileService
	fileSrv  *httptest.Server
	storeDrv store.Driver
	cacheDrv cache.Cache
	cancel   context.CancelFunc
}

// StartTestServer creates and starts a test server with a real sqlite store,
// a memory cache, and an in-process stub file service.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "linkvault-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to find free port: %v", err)
	}

	fileSvc := NewFileService()
	fileSrv := httptest.NewServer(fileSvc)

	cfg := config.DefaultConfig()
	cfg.ListenAddr = fmt.Sprintf(":%d", port)
	cfg.PublicOrigin = fmt.Sprintf("http://localhost:%d", port)
	cfg.Store.DataDir = tempDir
	cfg.Blob.BaseURL = fileSrv.URL
	cfg.Auth.JWTSecret = "integration-test-secret"
	cfg.Auth.BcryptCost = 4 // fast hashing for tests
	cfg.TLS.Mode = "off"

	// Only log warnings and errors during tests
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	drv, err := store.New(&store.DriverConfig{Driver: "sqlite", DataDir: tempDir})
	if err != nil {
		fileSrv.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create store driver: %v", err)
	}
	if err := drv.Init(context.Background()); err != nil {
		fileSrv.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to init store: %v", err)
	}
	shareStore := drv.(store.ShareStore)
	userStore := drv.(store.UserStore)

	cacheDrv, err := cache.NewFromConfig("memory", nil)
	if err != nil {
		drv.Close()
		fileSrv.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create cache: %v", err)
	}

	blobClient := blobstore.New(&blobstore.Config{
		BaseURL:    fileSrv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, logger)

	srv, err := server.New(cfg, logger, &server.Deps{
		Users:  userStore,
		Auth:   identity.NewUserAuth(cfg.Auth.BcryptCost),
		Tokens: identity.NewTokenIssuer(cfg.Auth.JWTSecret, 30*time.Minute),
		Shares: share.NewService(shareStore, cacheDrv, logger),
		Blobs:  blobClient,
	})
	if err != nil {
		cacheDrv.Close()
		drv.Close()
		fileSrv.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Server error is expected on shutdown
		_ = srv.Start(ctx)
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 5*time.Second); err != nil {
		cancel()
		cacheDrv.Close()
		drv.Close()
		fileSrv.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("server failed to start: %v", err)
	}

	return &TestServer{
		Server:   srv,
		Config:   cfg,
		BaseURL:  baseURL,
		TempDir:  tempDir,
		FileSvc:  fileSvc,
		fileSrv:  fileSrv,
		storeDrv: drv,
		cacheDrv: cacheDrv,
		cancel:   cancel,
	}
}

// Stop stops the test server and cleans up resources.
func (ts *TestServer) Stop(t *testing.T) {
	t.Helper()

	ts.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ts.Server.Shutdown(ctx); err != nil {
		t.Logf("warning: shutdown error: %v", err)
	}

	ts.fileSrv.Close()
	ts.cacheDrv.Close()
	ts.storeDrv.Close()

	if err := os.RemoveAll(ts.TempDir); err != nil {
		t.Logf("warning: failed to remove temp dir: %v", err)
	}
}

// RegisterAndLogin creates a user and returns a bearer token for it.
func (ts *TestServer) RegisterAndLogin(t *testing.T, username, email, password string) string {
	t.Helper()

	regBody := fmt.Sprintf(`{"username":%q,"email":%q,"password":%q}`, username, email, password)
	resp, err := http.Post(ts.BaseURL+"/api/auth/register", "application/json", strings.NewReader(regBody))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	loginBody := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	resp, err = http.Post(ts.BaseURL+"/api/auth/login", "application/json", strings.NewReader(loginBody))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if token.AccessToken == "" {
		t.Fatal("login returned empty access token")
	}
	return token.AccessToken
}

// Do performs a request against the test server with an optional bearer token.
func (ts *TestServer) Do(t *testing.T, method, path, bearer string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.BaseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// FileService is an in-memory stand-in for the external file storage service.
type FileService struct {
	mu    sync.Mutex
	next  int
	files map[string]storedFile
}

type storedFile struct {
	name    string
	content []byte
	hash    string
}

// NewFileService creates an empty stub file service.
func NewFileService() *FileService {
	return &FileService{files: make(map[string]storedFile)}
}

// Put seeds a file directly, bypassing the upload endpoint.
func (f *FileService) Put(name string, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := "file-" + strconv.Itoa(f.next)
	sum := sha256.Sum256(content)
	f.files[id] = storedFile{name: name, content: content, hash: hex.EncodeToString(sum[:])}
	return id
}

func (f *FileService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/files/upload":
		f.handleUpload(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/files/download/"):
		f.handleDownload(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/files/delete/"):
		f.handleDelete(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FileService) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	id := f.Put(header.Filename, content)
	f.mu.Lock()
	stored := f.files[id]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"file_id":   id,
		"file_name": stored.name,
		"file_size": len(stored.content),
		"file_hash": stored.hash,
		"message":   "uploaded",
	})
}

func (f *FileService) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	f.mu.Lock()
	stored, ok := f.files[id]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.name))
	w.Write(stored.content)
}

func (f *FileService) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/files/delete/")
	f.mu.Lock()
	delete(f.files, id)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// getFreePort finds an available TCP port.
func getFreePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to accept connections.
func waitForServer(baseURL string, timeout time.Duration) error {
	addr := strings.TrimPrefix(baseURL, "http://")
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}
