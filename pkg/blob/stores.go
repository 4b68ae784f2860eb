package blob

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/encryption"
)

// LocalConfig configures a store over a local directory.
type LocalConfig struct {
	// Path is the BlobStorePath directory.
	Path string
	// Key is the BlobStoreKey; its UTF-8 bytes must be exactly 32 bytes.
	Key    string
	Now    func() time.Time
	Logger *slog.Logger
}

// NewLocalStore validates cfg and returns a Vault over a PathBackend.
func NewLocalStore(cfg LocalConfig) (*Vault, error) {
	key, err := encryption.KeyFromString(cfg.Key)
	if err != nil {
		return nil, err
	}
	backend, err := NewPathBackend(cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewVault(backend, VaultOptions{Key: key, Now: cfg.Now, Logger: cfg.Logger})
}

// CloudConfig configures a store over an S3-compatible container.
type CloudConfig struct {
	ConnectionString string
	ContainerName    string
	// Key is the BlobStoreKey; its UTF-8 bytes must be exactly 32 bytes.
	Key        string
	Timeout    time.Duration
	CacheBytes int64
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
}

// NewCloudStore validates cfg, resolves the container once and returns a
// Vault over an S3Backend.
func NewCloudStore(ctx context.Context, cfg CloudConfig) (*Vault, error) {
	key, err := encryption.KeyFromString(cfg.Key)
	if err != nil {
		return nil, err
	}
	conn, err := ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	sess, err := NewS3Session(conn, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	backend, err := NewS3Backend(s3.New(sess), cfg.ContainerName, conn.Region, S3Options{
		Timeout:    cfg.Timeout,
		CacheBytes: cfg.CacheBytes,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return NewVault(backend, VaultOptions{Key: key, Now: cfg.Now, Logger: cfg.Logger})
}
