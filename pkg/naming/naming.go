// Package naming derives blob names from textual seeds.
//
// Names are the standard Base64 encoding of SHA-256(seed) with '/' replaced
// by '_', so they are safe as file names and object keys. A name depends only
// on its seed, never on the backend that stores it.
package naming

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"
)

// SeedTimeLayout formats the timestamp component of a seed.
const SeedTimeLayout = "2006-01-02 15:04:05.000"

var seedReplacer = strings.NewReplacer(" ", "_", ".", "_", ":", "_")

// Derive hashes seed into a blob name.
func Derive(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString(sum[:]), "/", "_")
}

// Seed builds the pre-hash input for logicalName at time now.
func Seed(now time.Time, logicalName string) string {
	return seedReplacer.Replace(now.Format(SeedTimeLayout) + logicalName)
}

// Namer issues fresh names for uploads.
type Namer struct {
	now func() time.Time
}

// NewNamer returns a Namer reading time from now. A nil now uses time.Now.
func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{now: now}
}

// Next derives the name for a new upload of logicalName.
func (n *Namer) Next(logicalName string) string {
	return Derive(Seed(n.now(), logicalName))
}

// ObjectKey joins a blob name and its extension into the stored key.
func ObjectKey(name, extension string) string {
	extension = strings.TrimPrefix(extension, ".")
	if extension == "" {
		return name
	}
	return name + "." + extension
}

// SplitObjectKey separates key into the blob name and extension.
// Names never contain '.', so the first dot is the separator.
func SplitObjectKey(key string) (name, extension string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
