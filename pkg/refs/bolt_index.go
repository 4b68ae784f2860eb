package refs

import (
	"context"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// BoltConfig configures the BoltDB-backed reference index.
type BoltConfig struct {
	Path    string
	NoSync  bool
	Timeout time.Duration
}

// Ref is one media record's claim on a blob.
type Ref struct {
	Kind     Kind
	EntityID string
	BlobName string
}

// BoltIndex persists media references in BoltDB, one bucket per Kind keyed
// by entity ID.
type BoltIndex struct {
	cfg BoltConfig
	db  *bolt.DB
}

var _ Source = (*BoltIndex)(nil)

// NewBoltIndex opens (or creates) the index at cfg.Path.
func NewBoltIndex(cfg BoltConfig) (*BoltIndex, error) {
	if cfg.Path == "" {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "refs.NewBoltIndex", "", fmt.Errorf("boltdb: path is required"))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorageIO, "refs.NewBoltIndex", cfg.Path, fmt.Errorf("boltdb: open: %w", err))
	}
	idx := &BoltIndex{cfg: cfg, db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (b *BoltIndex) init() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, kind := range Kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return fmt.Errorf("boltdb: create bucket %s: %w", kind, err)
			}
		}
		return nil
	})
}

// Close releases the database file.
func (b *BoltIndex) Close() error {
	return b.db.Close()
}

// Add records that entityID of kind references blobName, replacing any
// previous reference held by that entity.
func (b *BoltIndex) Add(ctx context.Context, kind Kind, entityID, blobName string) error {
	if entityID == "" || blobName == "" {
		return xerrors.E(xerrors.KindInvalid, "refs.Add", entityID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := kindBucket(tx, kind)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(entityID), []byte(blobName))
	})
}

// Remove drops the reference held by entityID. Removing an unknown entity
// fails with KindNotFound.
func (b *BoltIndex) Remove(ctx context.Context, kind Kind, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := kindBucket(tx, kind)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(entityID)) == nil {
			return xerrors.E(xerrors.KindNotFound, "refs.Remove", string(kind)+"/"+entityID)
		}
		return bucket.Delete([]byte(entityID))
	})
}

// Lookup returns the blob name referenced by entityID.
func (b *BoltIndex) Lookup(ctx context.Context, kind Kind, entityID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var name string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, err := kindBucket(tx, kind)
		if err != nil {
			return err
		}
		v := bucket.Get([]byte(entityID))
		if v == nil {
			return xerrors.E(xerrors.KindNotFound, "refs.Lookup", string(kind)+"/"+entityID)
		}
		name = string(v)
		return nil
	})
	return name, err
}

// List returns the references of kind ordered by entity ID. An empty kind
// lists every kind.
func (b *BoltIndex) List(ctx context.Context, kind Kind) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kinds := Kinds
	if kind != "" {
		kinds = []Kind{kind}
	}
	var out []Ref
	err := b.db.View(func(tx *bolt.Tx) error {
		for _, k := range kinds {
			bucket, err := kindBucket(tx, k)
			if err != nil {
				return err
			}
			if err := bucket.ForEach(func(key, value []byte) error {
				out = append(out, Ref{Kind: k, EntityID: string(key), BlobName: string(value)})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

func (b *BoltIndex) ListReferencedBlobNames(ctx context.Context) (Set, error) {
	refs, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	set := make(Set, len(refs))
	for _, r := range refs {
		set.Add(r.BlobName)
	}
	return set, nil
}

func kindBucket(tx *bolt.Tx, kind Kind) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(kind))
	if bucket == nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "refs", string(kind), fmt.Errorf("unknown media kind"))
	}
	return bucket, nil
}
