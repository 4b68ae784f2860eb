package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

const tempPrefix = ".upload-"

// PathBackend persists objects as files in a single directory, one file per
// key holding the raw IV‖ciphertext bytes.
type PathBackend struct {
	fs   billy.Filesystem
	root string
}

var _ TempPurger = (*PathBackend)(nil)

// NewPathBackend returns a Backend rooted at the local directory root.
func NewPathBackend(root string) (*PathBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, xerrors.E(xerrors.KindConfiguration, "PathBackend", "root")
	}
	p := &PathBackend{fs: osfs.New(root), root: root}
	if err := p.ensureDir(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewFilesystemBackend returns a Backend over an arbitrary billy filesystem.
func NewFilesystemBackend(fsys billy.Filesystem) *PathBackend {
	return &PathBackend{fs: fsys, root: fsys.Root()}
}

func (p *PathBackend) Name() string { return "file://" + p.root }

func (p *PathBackend) Put(ctx context.Context, key string, payload []byte) error {
	if err := checkKey("PathBackend.Put", key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ensureDir(); err != nil {
		return err
	}
	file, err := p.fs.TempFile(".", tempPrefix)
	if err != nil {
		return xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Put", key, err)
	}
	tmpName := file.Name()
	if _, err := file.Write(payload); err != nil {
		file.Close()
		p.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Put", key, err)
	}
	if err := file.Close(); err != nil {
		p.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Put", key, err)
	}
	if err := p.fs.Rename(tmpName, key); err != nil {
		p.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Put", key, err)
	}
	return nil
}

func (p *PathBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey("PathBackend.Get", key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := p.fs.Open(key)
	if err != nil {
		return nil, p.wrap("PathBackend.Get", key, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Get", key, err)
	}
	return data, nil
}

func (p *PathBackend) Delete(ctx context.Context, key string) error {
	if err := checkKey("PathBackend.Delete", key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap("PathBackend.Delete", key, p.fs.Remove(key))
}

func (p *PathBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey("PathBackend.Exists", key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := p.fs.Stat(key)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.Exists", key, err)
}

// List returns the keys of all regular files in the directory, sorted.
// In-flight temp files are skipped. A missing directory lists as empty.
func (p *PathBackend) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := p.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.List", p.root, err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		keys = append(keys, info.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeTemp removes upload temp files older than maxAge, left behind by
// interrupted writes.
func (p *PathBackend) PurgeTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	infos, err := p.fs.ReadDir(".")
	if err != nil {
		return 0, xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.PurgeTemp", p.root, err)
	}
	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), tempPrefix) || info.ModTime().After(cutoff) {
			continue
		}
		if err := p.fs.Remove(info.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.PurgeTemp", info.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (p *PathBackend) ensureDir() error {
	if err := p.fs.MkdirAll(".", 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindStorageIO, "PathBackend.mkdir", p.root, err)
	}
	return nil
}

func (p *PathBackend) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return xerrors.Wrap(xerrors.KindNotFound, op, key, err)
	}
	return xerrors.Wrap(xerrors.KindStorageIO, op, key, err)
}

// checkKey rejects keys that would escape the backend's directory.
func checkKey(op, key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, tempPrefix) {
		return xerrors.E(xerrors.KindInvalid, op, key)
	}
	return nil
}
