// Package blob stores encrypted media objects under hash-derived names.
//
// A Store encrypts content with AES-256-CBC, names it through the naming
// package and hands the ciphertext to a Backend. Two backends exist: a local
// directory (PathBackend) and an S3-compatible container (S3Backend). Both
// address objects by "<name>.<extension>" keys and report missing objects
// with xerrors.KindNotFound.
package blob

import (
	"context"
	"time"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/cache"
)

// Store is the contract consumed by media workflows.
type Store interface {
	// SaveAsBase64 decodes content, encrypts it and stores it under a fresh
	// name. It returns the name without extension.
	SaveAsBase64(ctx context.Context, content, logicalName, extension string) (string, error)
	// SaveBytes is SaveAsBase64 for raw content.
	SaveBytes(ctx context.Context, content []byte, logicalName, extension string) (string, error)
	// LoadAsBytes returns the decrypted content stored under blobName.
	LoadAsBytes(ctx context.Context, blobName string) ([]byte, error)
	// LoadAsBase64 returns the decrypted content base64-encoded.
	LoadAsBase64(ctx context.Context, blobName string) (string, error)
	// Delete removes blobName, failing with KindNotFound when absent.
	Delete(ctx context.Context, blobName string) error
	// Update replaces oldBlobName with new content under a new name.
	Update(ctx context.Context, oldBlobName, newContentBase64, newLogicalName, extension string) (string, error)
}

// Lister enumerates stored object keys.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Deleter removes stored objects.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Backend persists raw object payloads under keys.
type Backend interface {
	Lister
	Deleter
	// Put writes payload under key, creating the backing location if needed.
	// Existing objects are overwritten.
	Put(ctx context.Context, key string, payload []byte) error
	// Get returns the full payload stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Name identifies the backend in logs.
	Name() string
}

// TempPurger is implemented by backends that stage uploads in temporary
// files. PurgeTemp removes staged files older than maxAge and returns how
// many were removed.
type TempPurger interface {
	PurgeTemp(ctx context.Context, maxAge time.Duration) (int, error)
}

// CacheReporter is implemented by backends with a read cache.
type CacheReporter interface {
	CacheStats() (cache.Stats, bool)
}
