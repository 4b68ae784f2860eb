// Package refs answers which blob names are still referenced by media
// records. The reconciliation sweep treats every stored object missing from
// these sets as an orphan.
package refs

import (
	"context"
	"sort"
	"sync"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/naming"
)

// Kind names a family of media records that own blob names.
type Kind string

const (
	KindImage Kind = "images"
	KindAudio Kind = "audios"
)

// Kinds lists every media kind the index tracks.
var Kinds = []Kind{KindImage, KindAudio}

// Source lists the blob names currently referenced by media records.
type Source interface {
	ListReferencedBlobNames(ctx context.Context) (Set, error)
}

// Set is a set of referenced blob names. Entries are normally stored object
// keys ("<name>.<ext>"); bare names without extension are also accepted.
type Set map[string]struct{}

// NewSet returns a Set holding names. Empty strings are skipped.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func (s Set) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// References reports whether the stored object key is referenced, either by
// its full key or by its bare name.
func (s Set) References(key string) bool {
	if s.Has(key) {
		return true
	}
	name, _ := naming.SplitObjectKey(key)
	return name != key && s.Has(name)
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MemorySource is an in-memory Source for tests and embedding.
type MemorySource struct {
	mu    sync.RWMutex
	names Set
}

// NewMemorySource returns a MemorySource seeded with names.
func NewMemorySource(names ...string) *MemorySource {
	return &MemorySource{names: NewSet(names...)}
}

func (m *MemorySource) Add(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.names.Add(n)
	}
}

func (m *MemorySource) Remove(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.names, n)
	}
}

func (m *MemorySource) ListReferencedBlobNames(ctx context.Context) (Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Set, len(m.names))
	for n := range m.names {
		out[n] = struct{}{}
	}
	return out, nil
}

type union []Source

// Union merges the sets of several sources. Any source failing fails the
// whole listing, since a partial reference set would make live blobs look
// orphaned.
func Union(sources ...Source) Source {
	return union(sources)
}

func (u union) ListReferencedBlobNames(ctx context.Context) (Set, error) {
	out := make(Set)
	for _, src := range u {
		if src == nil {
			continue
		}
		set, err := src.ListReferencedBlobNames(ctx)
		if err != nil {
			return nil, err
		}
		for n := range set {
			out[n] = struct{}{}
		}
	}
	return out, nil
}
