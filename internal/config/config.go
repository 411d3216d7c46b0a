// Package config provides configuration loading for the CLI and the local
// stub daemon. It handles environment variable parsing and provides default
// values for all settings.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
)

// init loads environment variables from .env files during package
// initialization. godotenv.Load() does not override already-set variables,
// preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the CLI.
type Config struct {
	IdentityURL string        // Base URL of the identity service
	CDVURL      string        // Base URL of the content-record (CDV) service
	GatewayURL  string        // Base URL of the read gateway
	ConfigDir   string        // Directory holding identity.json and sessions.json
	CDVPath     string        // Path of the local content-store stub file
	HTTPTimeout time.Duration // Per-attempt HTTP timeout
	HTTPRetries int           // Additional attempts beyond the first
	HTTPBackoff time.Duration // Base backoff delay (doubled per retry)
}

// StubConfig captures settings for the local stub daemon.
type StubConfig struct {
	Address       string        // HTTP listen address
	Backend       string        // Store backend (memory, file)
	FilePath      string        // Record-store path for the file backend
	JWTPrivateKey []byte        // Ed25519 private key used to sign session JWTs
	JWTIssuer     string        // Issuer identifier for issued JWTs
	SessionTTL    time.Duration // Lifetime of issued session tokens
	NonceTTL      time.Duration // Lifetime of issued nonces
}

// Default configuration values used when environment variables are not set.
const (
	defaultIdentityURL = "http://localhost:8080"
	defaultCDVURL      = "http://localhost:8081"
	defaultGatewayURL  = "http://localhost:8082"
	defaultCDVPath     = "./cdv.json"
	defaultTimeout     = 5000 * time.Millisecond
	defaultRetries     = 3
	defaultBackoff     = 1000 * time.Millisecond

	defaultStubAddress = ":8080"
	defaultStubIssuer  = "registryaccord-stub"
	defaultSessionTTL  = 10 * time.Minute
	defaultNonceTTL    = 5 * time.Minute
)

// Load reads environment variables and produces a Config for the CLI.
// All variables are optional; defaults target a local development stack.
func Load() (Config, error) {
	cfg := Config{
		IdentityURL: getEnv("RA_IDENTITY_URL", defaultIdentityURL),
		CDVURL:      getEnv("RA_CDV_URL", defaultCDVURL),
		GatewayURL:  getEnv("RA_GATEWAY_URL", defaultGatewayURL),
		CDVPath:     getEnv("RA_CDV_PATH", defaultCDVPath),
		HTTPTimeout: defaultTimeout,
		HTTPRetries: defaultRetries,
		HTTPBackoff: defaultBackoff,
	}

	dir, exists := os.LookupEnv("RA_CONFIG_DIR")
	if !exists {
		home, err := homedir.Dir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".config", "registryaccord")
	}
	cfg.ConfigDir = dir

	if raw, exists := os.LookupEnv("RA_HTTP_TIMEOUT_MS"); exists {
		d, err := parseMillis(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RA_HTTP_TIMEOUT_MS: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if raw, exists := os.LookupEnv("RA_HTTP_RETRIES"); exists {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid RA_HTTP_RETRIES: %q", raw)
		}
		cfg.HTTPRetries = n
	}
	if raw, exists := os.LookupEnv("RA_HTTP_BACKOFF_MS"); exists {
		d, err := parseMillis(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RA_HTTP_BACKOFF_MS: %w", err)
		}
		cfg.HTTPBackoff = d
	}

	return cfg, nil
}

// LoadStub reads environment variables and produces a StubConfig for the
// local stub daemon. RA_STUB_JWT_SIGNING_KEY is optional; when absent the
// daemon generates an ephemeral signing key at startup.
func LoadStub() (StubConfig, error) {
	cfg := StubConfig{
		Address:    getEnv("RA_STUB_ADDR", defaultStubAddress),
		Backend:    strings.ToLower(getEnv("RA_STUB_BACKEND", "memory")),
		FilePath:   getEnv("RA_CDV_PATH", defaultCDVPath),
		JWTIssuer:  getEnv("RA_STUB_JWT_ISS", defaultStubIssuer),
		SessionTTL: defaultSessionTTL,
		NonceTTL:   defaultNonceTTL,
	}

	if cfg.Backend != "memory" && cfg.Backend != "file" {
		return StubConfig{}, fmt.Errorf("invalid RA_STUB_BACKEND: %q (supported: memory, file)", cfg.Backend)
	}

	if raw, exists := os.LookupEnv("RA_STUB_SESSION_TTL_SECONDS"); exists {
		d, err := parseSeconds(raw)
		if err != nil {
			return StubConfig{}, fmt.Errorf("invalid RA_STUB_SESSION_TTL_SECONDS: %w", err)
		}
		cfg.SessionTTL = d
	}
	if raw, exists := os.LookupEnv("RA_STUB_NONCE_TTL_SECONDS"); exists {
		d, err := parseSeconds(raw)
		if err != nil {
			return StubConfig{}, fmt.Errorf("invalid RA_STUB_NONCE_TTL_SECONDS: %w", err)
		}
		cfg.NonceTTL = d
	}

	if raw, exists := os.LookupEnv("RA_STUB_JWT_SIGNING_KEY"); exists {
		key, err := decodeBase64Key(raw)
		if err != nil {
			return StubConfig{}, fmt.Errorf("invalid RA_STUB_JWT_SIGNING_KEY: %w", err)
		}
		cfg.JWTPrivateKey = key
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// decodeBase64Key decodes a base64 Ed25519 private key and checks its size.
func decodeBase64Key(raw string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return key, nil
}

// parseMillis converts a string count of milliseconds to a time.Duration.
func parseMillis(raw string) (time.Duration, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseSeconds converts a string count of seconds to a time.Duration.
func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(seconds) * time.Second, nil
}
