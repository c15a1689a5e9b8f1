// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds the server configuration.
type Config struct {
	// PublicOrigin is the public origin (scheme + host + port) for this instance.
	// Example: "https://localhost:8200"
	PublicOrigin string `toml:"public_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":8200"
	ListenAddr string `toml:"listen_addr"`

	// Store holds persistence settings.
	Store StoreConfig `toml:"store"`

	// Cache holds token cache settings.
	Cache CacheConfig `toml:"cache"`

	// Blob holds file service client settings.
	Blob BlobConfig `toml:"blob"`

	// Auth holds authentication settings.
	Auth AuthConfig `toml:"auth"`

	// Upload holds upload limits.
	Upload UploadConfig `toml:"upload"`

	// TLS configuration
	TLS TLSConfig `toml:"tls"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is the store driver name: "sqlite" (default).
	Driver string `toml:"driver"`

	// DataDir is where the driver keeps its files. Default: "./data"
	DataDir string `toml:"data_dir"`
}

// CacheConfig holds token cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// BlobConfig holds file service client settings.
type BlobConfig struct {
	// BaseURL is the external file service origin.
	BaseURL string `toml:"base_url"`

	// TimeoutMS is the overall request timeout in milliseconds.
	TimeoutMS int `toml:"timeout_ms"`

	// MaxRetries bounds retries of idempotent requests.
	MaxRetries int `toml:"max_retries"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret signs access tokens. Required for serving; no default.
	JWTSecret string `toml:"jwt_secret"`

	// AccessTokenTTLMinutes is the access token lifetime. Default: 30.
	AccessTokenTTLMinutes int `toml:"access_token_ttl_minutes"`

	// BcryptCost for password hashing. Default: bcrypt.DefaultCost.
	BcryptCost int `toml:"bcrypt_cost"`
}

// UploadConfig holds upload limits.
type UploadConfig struct {
	// MaxBytes is the maximum accepted upload size. Default: 100 MiB.
	MaxBytes int64 `toml:"max_bytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	// SelfSignedDir is where self-signed certs are stored
	SelfSignedDir string `toml:"self_signed_dir"`

	// ACME configuration
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	// Email for ACME registration
	Email string `toml:"email"`

	// Domain is the domain to obtain a certificate for
	Domain string `toml:"domain"`

	// Directory is the ACME server URL (default: Let's Encrypt production)
	Directory string `toml:"directory"`

	// StorageDir is where ACME certificates and account info are stored
	StorageDir string `toml:"storage_dir"`

	// UseStaging uses Let's Encrypt staging (for testing)
	UseStaging bool `toml:"use_staging"`
}

// DefaultConfig returns a Config with defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		PublicOrigin: "http://localhost:8200",
		ListenAddr:   ":8200",
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "./data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Blob: BlobConfig{
			BaseURL:    "http://localhost:8081",
			TimeoutMS:  30000,
			MaxRetries: 3,
		},
		Auth: AuthConfig{
			AccessTokenTTLMinutes: 30,
		},
		Upload: UploadConfig{
			MaxBytes: 100 << 20,
		},
		TLS: TLSConfig{
			Mode:          "off",
			HTTPPort:      8280,
			HTTPSPort:     8200,
			SelfSignedDir: ".linkvault/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".linkvault/acme",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  PublicOrigin: %q,\n", c.PublicOrigin))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString("  Store: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("    DataDir: %q,\n", c.Store.DataDir))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Cache.Driver))
	sb.WriteString(fmt.Sprintf("    DriversCount: %d,\n", len(c.Cache.Drivers)))
	sb.WriteString("  },\n")
	sb.WriteString("  Blob: {\n")
	sb.WriteString(fmt.Sprintf("    BaseURL: %q,\n", c.Blob.BaseURL))
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.Blob.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxRetries: %d,\n", c.Blob.MaxRetries))
	sb.WriteString("  },\n")
	sb.WriteString("  Auth: {\n")
	sb.WriteString("    JWTSecret: [REDACTED],\n")
	sb.WriteString(fmt.Sprintf("    AccessTokenTTLMinutes: %d,\n", c.Auth.AccessTokenTTLMinutes))
	sb.WriteString(fmt.Sprintf("    BcryptCost: %d,\n", c.Auth.BcryptCost))
	sb.WriteString("  },\n")
	sb.WriteString("  Upload: {\n")
	sb.WriteString(fmt.Sprintf("    MaxBytes: %d,\n", c.Upload.MaxBytes))
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.TLS.Mode))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString(fmt.Sprintf("    HTTPPort: %d,\n", c.TLS.HTTPPort))
	sb.WriteString(fmt.Sprintf("    HTTPSPort: %d,\n", c.TLS.HTTPSPort))
	sb.WriteString(fmt.Sprintf("    SelfSignedDir: %q,\n", c.TLS.SelfSignedDir))
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "https" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	if c.PublicOrigin == "" {
		return "https"
	}
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return strings.ToLower(u.Scheme)
}

// ShareURL returns the public download URL for a share token.
func (c *Config) ShareURL(token string) string {
	return strings.TrimRight(c.PublicOrigin, "/") + "/api/files/download/" + token
}
