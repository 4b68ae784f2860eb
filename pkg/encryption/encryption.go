package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// Method enumerates supported encryption algorithms.
type Method string

// MethodAES256CBC encrypts data using AES-256 in CBC mode with PKCS#7
// padding and a random IV prefix.
const MethodAES256CBC Method = "aes-256-cbc"

// KeySize is the key length required by MethodAES256CBC.
const KeySize = 32

// Options describes how to encrypt or decrypt payloads.
type Options struct {
	Method Method
	Key    []byte
}

// AES256CBC returns Options for MethodAES256CBC with key.
func AES256CBC(key []byte) Options {
	return Options{Method: MethodAES256CBC, Key: key}
}

// Validate ensures the configuration is usable for the selected method.
func (o Options) Validate() error {
	switch o.Method {
	case MethodAES256CBC:
		if len(o.Key) != KeySize {
			return xerrors.Wrap(xerrors.KindConfiguration, "encryption.Validate", "",
				fmt.Errorf("aes-256-cbc requires %d-byte key, got %d", KeySize, len(o.Key)))
		}
	default:
		return xerrors.Wrap(xerrors.KindConfiguration, "encryption.Validate", "",
			fmt.Errorf("unsupported method %q", o.Method))
	}
	return nil
}

// KeyFromString converts a configured key into raw key bytes. The UTF-8
// encoding of s must be exactly KeySize bytes long.
func KeyFromString(s string) ([]byte, error) {
	if s == "" {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "encryption.KeyFromString", "", fmt.Errorf("key is empty"))
	}
	key := []byte(s)
	if len(key) != KeySize {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "encryption.KeyFromString", "",
			fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	return key, nil
}

// Encrypt returns data encrypted according to opts. The returned slice starts
// with the IV, which is drawn fresh from crypto/rand on every call.
func Encrypt(data []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return encryptAES256CBC(data, opts.Key)
}

// Decrypt reverses Encrypt using opts.
func Decrypt(payload []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return decryptAES256CBC(payload, opts.Key)
}

func encryptAES256CBC(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "encryption.Encrypt", "", err)
	}
	padded := pad(data)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "encryption.Encrypt", "", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func decryptAES256CBC(payload, key []byte) ([]byte, error) {
	if len(payload) < aes.BlockSize {
		return nil, xerrors.Wrap(xerrors.KindDecryption, "encryption.Decrypt", "",
			fmt.Errorf("payload of %d bytes is shorter than the IV", len(payload)))
	}
	body := payload[aes.BlockSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, xerrors.Wrap(xerrors.KindDecryption, "encryption.Decrypt", "",
			fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(body)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "encryption.Decrypt", "", err)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, payload[:aes.BlockSize]).CryptBlocks(plain, body)
	return unpad(plain)
}

var errBadPadding = xerrors.Wrap(xerrors.KindDecryption, "encryption.Decrypt", "", errors.New("invalid padding"))

// pad applies PKCS#7 padding; a full block is added when data is aligned.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
