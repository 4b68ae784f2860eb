package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/encryption"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/naming"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

const testKey = "0123456789abcdef0123456789abcdef"

// testClock returns a clock that advances one millisecond per call so every
// save gets a distinct seed.
func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

// runStoreConformance exercises the Store contract against any backend.
func runStoreConformance(t *testing.T, newVault func(t *testing.T) *Vault) {
	t.Run("save then load base64", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		name, err := v.SaveAsBase64(ctx, b64("hello"), "cat", "jpg")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if len(name) != 44 {
			t.Fatalf("unexpected name %q", name)
		}
		got, err := v.LoadAsBase64(ctx, name+".jpg")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got != b64("hello") {
			t.Fatalf("expected %q, got %q", b64("hello"), got)
		}
	})

	t.Run("save then load bytes", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		payload := bytes.Repeat([]byte{0, 1, 2, 3, 255}, 1000)
		name, err := v.SaveBytes(ctx, payload, "audio track: 1.0", "mp3")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := v.LoadAsBytes(ctx, naming.ObjectKey(name, "mp3"))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch")
		}
	})

	t.Run("stored object is iv prefixed ciphertext", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		name, err := v.SaveBytes(ctx, []byte("plain text body"), "doc", "bin")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		raw, err := v.Backend().Get(ctx, name+".bin")
		if err != nil {
			t.Fatalf("raw get: %v", err)
		}
		if len(raw) != 32 {
			t.Fatalf("expected 16-byte iv plus one block, got %d bytes", len(raw))
		}
		if bytes.Contains(raw, []byte("plain text")) {
			t.Fatalf("payload stored in clear")
		}
		plain, err := encryption.Decrypt(raw, encryption.AES256CBC([]byte(testKey)))
		if err != nil || string(plain) != "plain text body" {
			t.Fatalf("decrypt raw: %q %v", plain, err)
		}
	})

	t.Run("identical content yields distinct names", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		first, err := v.SaveAsBase64(ctx, b64("same"), "same", "png")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		second, err := v.SaveAsBase64(ctx, b64("same"), "same", "png")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if first == second {
			t.Fatalf("expected distinct names, both %q", first)
		}
	})

	t.Run("missing object is not found", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		if _, err := v.LoadAsBytes(ctx, "missing.jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("load missing: expected not found, got %v", err)
		}
		if _, err := v.LoadAsBase64(ctx, "missing.jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("load64 missing: expected not found, got %v", err)
		}
		if err := v.Delete(ctx, "missing.jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("delete missing: expected not found, got %v", err)
		}
	})

	t.Run("delete removes object", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		name, err := v.SaveAsBase64(ctx, b64("bye"), "gone", "jpg")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := v.Delete(ctx, name+".jpg"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := v.LoadAsBytes(ctx, name+".jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
		if err := v.Delete(ctx, name+".jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("second delete: expected not found, got %v", err)
		}
	})

	t.Run("update replaces object", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		old, err := v.SaveAsBase64(ctx, b64("v1"), "portrait", "jpg")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		updated, err := v.Update(ctx, old+".jpg", b64("v2"), "portrait", "png")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated == old {
			t.Fatalf("update reused the old name")
		}
		got, err := v.LoadAsBase64(ctx, updated+".png")
		if err != nil || got != b64("v2") {
			t.Fatalf("load new: %q %v", got, err)
		}
		if _, err := v.LoadAsBytes(ctx, old+".jpg"); !xerrors.IsNotFound(err) {
			t.Fatalf("expected old object gone, got %v", err)
		}
	})

	t.Run("update under colliding name keeps new content", func(t *testing.T) {
		ctx := context.Background()
		fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
		v, err := NewVault(newVault(t).Backend(), VaultOptions{
			Key: []byte(testKey),
			Now: func() time.Time { return fixed },
		})
		if err != nil {
			t.Fatalf("new vault: %v", err)
		}
		old, err := v.SaveAsBase64(ctx, b64("v1"), "portrait", "jpg")
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		updated, err := v.Update(ctx, old+".jpg", b64("v2"), "portrait", "jpg")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated != old {
			t.Fatalf("expected fixed clock to reuse %q, got %q", old, updated)
		}
		got, err := v.LoadAsBase64(ctx, updated+".jpg")
		if err != nil || got != b64("v2") {
			t.Fatalf("load after in-place update: %q %v", got, err)
		}
	})

	t.Run("unsafe keys rejected", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		for _, key := range []string{"", "..", "dir/x.jpg", `dir\x.jpg`} {
			if _, err := v.LoadAsBytes(ctx, key); xerrors.KindOf(err) != xerrors.KindInvalid {
				t.Fatalf("load %q: expected invalid, got %v", key, err)
			}
			if err := v.Delete(ctx, key); xerrors.KindOf(err) != xerrors.KindInvalid {
				t.Fatalf("delete %q: expected invalid, got %v", key, err)
			}
			if err := v.Backend().Put(ctx, key, []byte("x")); xerrors.KindOf(err) != xerrors.KindInvalid {
				t.Fatalf("put %q: expected invalid, got %v", key, err)
			}
		}
	})

	t.Run("update of missing object writes nothing", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		_, err := v.Update(ctx, "missing.jpg", b64("v2"), "x", "jpg")
		if !xerrors.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		var ue *UpdateError
		if !errors.As(err, &ue) || ue.Phase != PhaseCheckOld {
			t.Fatalf("expected check-old update error, got %v", err)
		}
		keys, err := v.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(keys) != 0 {
			t.Fatalf("expected empty store, got %v", keys)
		}
	})

	t.Run("invalid base64 rejected", func(t *testing.T) {
		v := newVault(t)
		_, err := v.SaveAsBase64(context.Background(), "not base64!!", "x", "jpg")
		if xerrors.KindOf(err) != xerrors.KindInvalid || err == nil {
			t.Fatalf("expected invalid error, got %v", err)
		}
	})

	t.Run("corrupt object fails decryption", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		if err := v.Backend().Put(ctx, "short.jpg", []byte("tiny")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, err := v.LoadAsBytes(ctx, "short.jpg"); !xerrors.IsDecryption(err) {
			t.Fatalf("expected decryption error, got %v", err)
		}
	})

	t.Run("list returns stored keys", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		want := make(map[string]bool)
		for i := 0; i < 3; i++ {
			name, err := v.SaveAsBase64(ctx, b64(fmt.Sprint(i)), fmt.Sprint("item", i), "jpg")
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			want[name+".jpg"] = true
		}
		keys, err := v.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(keys) != len(want) {
			t.Fatalf("expected %d keys, got %v", len(want), keys)
		}
		for _, k := range keys {
			if !want[k] {
				t.Fatalf("unexpected key %q", k)
			}
		}
	})

	t.Run("concurrent saves on distinct names", func(t *testing.T) {
		ctx := context.Background()
		v := newVault(t)
		var wg sync.WaitGroup
		names := make([]string, 8)
		errs := make([]error, 8)
		for i := range names {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				names[i], errs[i] = v.SaveAsBase64(ctx, b64(fmt.Sprint("content-", i)), fmt.Sprint("n", i), "jpg")
			}(i)
		}
		wg.Wait()
		for i, name := range names {
			if errs[i] != nil {
				t.Fatalf("save %d: %v", i, errs[i])
			}
			got, err := v.LoadAsBase64(ctx, name+".jpg")
			if err != nil || got != b64(fmt.Sprint("content-", i)) {
				t.Fatalf("load %d: %q %v", i, got, err)
			}
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		v := newVault(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := v.SaveAsBase64(ctx, b64("x"), "x", "jpg"); err == nil {
			t.Fatalf("expected error on canceled context")
		}
	})
}
