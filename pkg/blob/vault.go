package blob

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/encryption"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/naming"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// VaultOptions configures a Vault.
type VaultOptions struct {
	// Key is the AES-256 key; it must be exactly 32 bytes.
	Key    []byte
	Now    func() time.Time
	Logger *slog.Logger
}

// Vault implements Store on top of a Backend. It holds no mutable state
// beyond what the backend keeps, so calls on distinct names are safe to run
// concurrently. Calls on the same name are last-writer-wins.
type Vault struct {
	backend Backend
	enc     encryption.Options
	namer   *naming.Namer
	log     *slog.Logger
}

var _ Store = (*Vault)(nil)

// NewVault wires backend with the encryption key in opts.
func NewVault(backend Backend, opts VaultOptions) (*Vault, error) {
	if backend == nil {
		return nil, xerrors.E(xerrors.KindConfiguration, "blob.NewVault", "backend")
	}
	enc := encryption.AES256CBC(append([]byte(nil), opts.Key...))
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		backend: backend,
		enc:     enc,
		namer:   naming.NewNamer(opts.Now),
		log:     logger.With(slog.String("backend", backend.Name())),
	}, nil
}

// Backend returns the underlying object backend.
func (v *Vault) Backend() Backend { return v.backend }

func (v *Vault) SaveAsBase64(ctx context.Context, content, logicalName, extension string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindInvalid, "blob.SaveAsBase64", logicalName, err)
	}
	return v.SaveBytes(ctx, data, logicalName, extension)
}

func (v *Vault) SaveBytes(ctx context.Context, content []byte, logicalName, extension string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := v.namer.Next(logicalName)
	key := naming.ObjectKey(name, extension)
	payload, err := encryption.Encrypt(content, v.enc)
	if err != nil {
		return "", err
	}
	if err := v.backend.Put(ctx, key, payload); err != nil {
		return "", err
	}
	v.log.Debug("blob saved", slog.String("key", key), slog.Int("size", len(content)))
	return name, nil
}

func (v *Vault) LoadAsBytes(ctx context.Context, blobName string) ([]byte, error) {
	payload, err := v.backend.Get(ctx, blobName)
	if err != nil {
		return nil, err
	}
	plain, err := encryption.Decrypt(payload, v.enc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "blob.Load", blobName, err)
	}
	return plain, nil
}

func (v *Vault) LoadAsBase64(ctx context.Context, blobName string) (string, error) {
	plain, err := v.LoadAsBytes(ctx, blobName)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(plain), nil
}

func (v *Vault) Delete(ctx context.Context, blobName string) error {
	if err := v.backend.Delete(ctx, blobName); err != nil {
		return err
	}
	v.log.Debug("blob deleted", slog.String("key", blobName))
	return nil
}

// Update stores the new content first and removes oldBlobName afterwards, so
// the old object is never lost before its replacement exists. The two steps
// are not atomic: when the delete fails the new name is still returned
// together with an *UpdateError in PhaseDeleteOld, and the old object stays
// behind until deleted or swept. When the new key equals oldBlobName the
// object is overwritten in place and nothing is deleted.
func (v *Vault) Update(ctx context.Context, oldBlobName, newContentBase64, newLogicalName, extension string) (string, error) {
	ok, err := v.backend.Exists(ctx, oldBlobName)
	if err != nil {
		return "", &UpdateError{Phase: PhaseCheckOld, Old: oldBlobName, Err: err}
	}
	if !ok {
		return "", &UpdateError{Phase: PhaseCheckOld, Old: oldBlobName,
			Err: xerrors.E(xerrors.KindNotFound, "blob.Update", oldBlobName)}
	}
	name, err := v.SaveAsBase64(ctx, newContentBase64, newLogicalName, extension)
	if err != nil {
		return "", &UpdateError{Phase: PhaseSaveNew, Old: oldBlobName, Err: err}
	}
	newKey := naming.ObjectKey(name, extension)
	if newKey == oldBlobName {
		// Same seed within one clock tick: the save already replaced the
		// old object in place.
		return name, nil
	}
	if err := v.backend.Delete(ctx, oldBlobName); err != nil {
		v.log.Warn("blob update left old object behind",
			slog.String("old", oldBlobName), slog.String("new", newKey), slog.Any("err", err))
		return name, &UpdateError{Phase: PhaseDeleteOld, Old: oldBlobName, New: newKey, Err: err}
	}
	return name, nil
}

// Exists reports whether an object is stored under blobName.
func (v *Vault) Exists(ctx context.Context, blobName string) (bool, error) {
	return v.backend.Exists(ctx, blobName)
}

// List returns every stored object key.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	return v.backend.List(ctx)
}

// UpdatePhase names the step of Update that failed.
type UpdatePhase int

const (
	// PhaseCheckOld: the old object is missing or could not be checked.
	// Nothing was written.
	PhaseCheckOld UpdatePhase = iota
	// PhaseSaveNew: the new content could not be stored. The old object is
	// untouched.
	PhaseSaveNew
	// PhaseDeleteOld: the new object is stored but the old one remains.
	PhaseDeleteOld
)

func (p UpdatePhase) String() string {
	switch p {
	case PhaseCheckOld:
		return "check-old"
	case PhaseSaveNew:
		return "save-new"
	case PhaseDeleteOld:
		return "delete-old"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// UpdateError reports a failed or partially applied Update.
type UpdateError struct {
	Phase UpdatePhase
	Old   string
	// New is the stored key of the replacement, set only in PhaseDeleteOld.
	New string
	Err error
}

func (e *UpdateError) Error() string {
	if e.New != "" {
		return fmt.Sprintf("blob update %s -> %s failed at %s: %v", e.Old, e.New, e.Phase, e.Err)
	}
	return fmt.Sprintf("blob update %s failed at %s: %v", e.Old, e.Phase, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
