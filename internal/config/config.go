package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // AEGIS_DATABASE_URL (required; "memory://" = non-durable in-memory log)
	ListenAddr  string // AEGIS_LISTEN_ADDR (default ":9000")
	CertFile    string // AEGIS_CERT_FILE (default "certs/cert.pem")
	KeyFile     string // AEGIS_KEY_FILE (default "certs/key.pem")
	MaxConns    int64  // AEGIS_MAX_CONNS (default 0 = unbounded)
	HTTPAddr    string // AEGIS_HTTP_ADDR (default ":8080")
	GRPCAddr    string // AEGIS_GRPC_ADDR (default ":9090")
	NATSURL     string // AEGIS_NATS_URL (optional, empty = no events)
	AuthToken   string // AEGIS_AUTH_TOKEN (optional, empty = auth disabled)

	// IdleThreshold flags devices silent for longer than this in the roster.
	// It never disconnects them.
	IdleThreshold time.Duration // AEGIS_IDLE_THRESHOLD (default 0 = disabled)

	// Log archive settings
	SyncInterval   time.Duration // AEGIS_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // AEGIS_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // AEGIS_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // AEGIS_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // AEGIS_SYNC_S3_KEY (default "aegis/logs.jsonl")
	SyncGitRepo    string        // AEGIS_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // AEGIS_SYNC_GIT_FILE (default "aegis-logs.jsonl")
	SyncGitBranch  string        // AEGIS_SYNC_GIT_BRANCH (default "main")
}

// fileConfig is the optional TOML file named by AEGIS_CONFIG. Every key
// mirrors an environment variable; the environment wins when both are set.
type fileConfig struct {
	DatabaseURL   string `toml:"database_url"`
	ListenAddr    string `toml:"listen_addr"`
	CertFile      string `toml:"cert_file"`
	KeyFile       string `toml:"key_file"`
	MaxConns      string `toml:"max_conns"`
	HTTPAddr      string `toml:"http_addr"`
	GRPCAddr      string `toml:"grpc_addr"`
	NATSURL       string `toml:"nats_url"`
	AuthToken     string `toml:"auth_token"`
	IdleThreshold string `toml:"idle_threshold"`

	Sync struct {
		Interval   string `toml:"interval"`
		S3Bucket   string `toml:"s3_bucket"`
		S3Endpoint string `toml:"s3_endpoint"`
		S3Region   string `toml:"s3_region"`
		S3Key      string `toml:"s3_key"`
		GitRepo    string `toml:"git_repo"`
		GitFile    string `toml:"git_file"`
		GitBranch  string `toml:"git_branch"`
	} `toml:"sync"`
}

func Load() (*Config, error) {
	var f fileConfig
	if path := os.Getenv("AEGIS_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("AEGIS_CONFIG %s: %w", path, err)
		}
	}

	c := &Config{
		DatabaseURL:    setting("AEGIS_DATABASE_URL", f.DatabaseURL, ""),
		ListenAddr:     setting("AEGIS_LISTEN_ADDR", f.ListenAddr, ":9000"),
		CertFile:       setting("AEGIS_CERT_FILE", f.CertFile, "certs/cert.pem"),
		KeyFile:        setting("AEGIS_KEY_FILE", f.KeyFile, "certs/key.pem"),
		HTTPAddr:       setting("AEGIS_HTTP_ADDR", f.HTTPAddr, ":8080"),
		GRPCAddr:       setting("AEGIS_GRPC_ADDR", f.GRPCAddr, ":9090"),
		NATSURL:        setting("AEGIS_NATS_URL", f.NATSURL, ""),
		AuthToken:      setting("AEGIS_AUTH_TOKEN", f.AuthToken, ""),
		SyncS3Bucket:   setting("AEGIS_SYNC_S3_BUCKET", f.Sync.S3Bucket, ""),
		SyncS3Endpoint: setting("AEGIS_SYNC_S3_ENDPOINT", f.Sync.S3Endpoint, ""),
		SyncS3Region:   setting("AEGIS_SYNC_S3_REGION", f.Sync.S3Region, "us-east-1"),
		SyncS3Key:      setting("AEGIS_SYNC_S3_KEY", f.Sync.S3Key, "aegis/logs.jsonl"),
		SyncGitRepo:    setting("AEGIS_SYNC_GIT_REPO", f.Sync.GitRepo, ""),
		SyncGitFile:    setting("AEGIS_SYNC_GIT_FILE", f.Sync.GitFile, "aegis-logs.jsonl"),
		SyncGitBranch:  setting("AEGIS_SYNC_GIT_BRANCH", f.Sync.GitBranch, "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("AEGIS_DATABASE_URL is required")
	}

	maxConns := setting("AEGIS_MAX_CONNS", f.MaxConns, "0")
	n, err := strconv.ParseInt(maxConns, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("AEGIS_MAX_CONNS: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("AEGIS_MAX_CONNS: must not be negative, got %d", n)
	}
	c.MaxConns = n

	if c.IdleThreshold, err = parseDuration("AEGIS_IDLE_THRESHOLD", setting("AEGIS_IDLE_THRESHOLD", f.IdleThreshold, "0")); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = parseDuration("AEGIS_SYNC_INTERVAL", setting("AEGIS_SYNC_INTERVAL", f.Sync.Interval, "0")); err != nil {
		return nil, err
	}

	return c, nil
}

// ListenPort returns the numeric port of ListenAddr, or 0 if it has none.
func (c *Config) ListenPort() int {
	_, portStr, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, s)
	}
	return d, nil
}

// setting resolves a value from the environment, then the config file, then
// the fallback.
func setting(key, fileVal, fallback string) string {
	if fileVal != "" {
		fallback = fileVal
	}
	return envOrDefault(key, fallback)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
