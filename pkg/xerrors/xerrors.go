package xerrors

import (
	"errors"
	iofs "io/fs"
	"os"
)

// Kind classifies blob store errors.
type Kind int

const (
	KindInvalid Kind = iota
	KindNotFound
	KindDecryption
	KindConfiguration
	KindStorageIO
	KindInternal
)

// Error wraps an underlying error with additional metadata.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Path != "" {
		base += " " + e.Path
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindDecryption:
		return "decryption failed"
	case KindConfiguration:
		return "invalid configuration"
	case KindStorageIO:
		return "storage i/o error"
	case KindInternal:
		return "internal error"
	default:
		return "invalid"
	}
}

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, path string) error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
// Unclassified errors are reported as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist),
		errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, iofs.ErrPermission),
		errors.Is(err, iofs.ErrExist),
		errors.Is(err, iofs.ErrClosed):
		return KindStorageIO
	case errors.Is(err, iofs.ErrInvalid):
		return KindInvalid
	default:
		return KindInternal
	}
}

// IsNotFound reports whether err classifies as KindNotFound.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsDecryption reports whether err classifies as KindDecryption.
func IsDecryption(err error) bool { return err != nil && KindOf(err) == KindDecryption }

// IsConfiguration reports whether err classifies as KindConfiguration.
func IsConfiguration(err error) bool { return err != nil && KindOf(err) == KindConfiguration }

// IsStorageIO reports whether err classifies as KindStorageIO.
func IsStorageIO(err error) bool { return err != nil && KindOf(err) == KindStorageIO }
