package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/refs"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

const testKey = "0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildStoreLocal(t *testing.T) {
	store, err := buildStore(context.Background(), "local", settings{
		BlobStorePath: t.TempDir(),
		BlobStoreKey:  testKey,
	}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatalf("expected store instance")
	}
}

func TestBuildStoreValidation(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		settings settings
	}{
		{"local short key", "local", settings{BlobStorePath: "x", BlobStoreKey: "short"}},
		{"local missing key", "local", settings{BlobStorePath: "x"}},
		{"cloud missing connection", "cloud", settings{ContainerName: "media", BlobStoreKey: testKey}},
		{"cloud missing container", "cloud", settings{ConnectionString: "Region=us-east-1", BlobStoreKey: testKey}},
		{"cloud bad connection", "cloud", settings{ConnectionString: "Region", ContainerName: "media", BlobStoreKey: testKey}},
		{"unknown provider", "ftp", settings{BlobStoreKey: testKey}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildStore(context.Background(), tc.provider, tc.settings, discardLogger())
			if !xerrors.IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if exitCode(err) != 4 {
				t.Fatalf("expected exit code 4, got %d", exitCode(err))
			}
		})
	}
}

func TestSaveLoadDeleteWithIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := buildStore(ctx, "local", settings{BlobStorePath: filepath.Join(dir, "blobs"), BlobStoreKey: testKey}, discardLogger())
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	idx, err := refs.NewBoltIndex(refs.BoltConfig{Path: filepath.Join(dir, "refs.db")})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	ref := refFlags{Kind: string(refs.KindImage), EntityID: "12"}
	var out bytes.Buffer
	if err := doSave(ctx, store, idx, &out, []byte("hello"), "cat", "jpg", ref); err != nil {
		t.Fatalf("save: %v", err)
	}
	key := strings.TrimSpace(out.String())
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected key %q", key)
	}
	if got, err := idx.Lookup(ctx, refs.KindImage, "12"); err != nil || got != key {
		t.Fatalf("index lookup: %q %v", got, err)
	}

	out.Reset()
	if err := doLoad(ctx, store, &out, key, true); err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.TrimSpace(out.String()) != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Fatalf("unexpected load output %q", out.String())
	}

	out.Reset()
	if err := doUpdate(ctx, store, idx, &out, key, []byte("world"), "cat", "png", ref); err != nil {
		t.Fatalf("update: %v", err)
	}
	newKey := strings.TrimSpace(out.String())
	if got, _ := idx.Lookup(ctx, refs.KindImage, "12"); got != newKey {
		t.Fatalf("index not moved to %q, got %q", newKey, got)
	}
	if err := doLoad(ctx, store, io.Discard, key, false); !xerrors.IsNotFound(err) {
		t.Fatalf("expected old key gone, got %v", err)
	}

	if err := doDelete(ctx, store, idx, newKey, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := idx.Lookup(ctx, refs.KindImage, "12"); !xerrors.IsNotFound(err) {
		t.Fatalf("expected reference removed, got %v", err)
	}
	if err := doDelete(ctx, store, idx, newKey, ref); exitCode(err) != 3 {
		t.Fatalf("expected not found exit code, got %v", err)
	}
}

func TestSweepUsesIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := buildStore(ctx, "local", settings{BlobStorePath: filepath.Join(dir, "blobs"), BlobStoreKey: testKey}, discardLogger())
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	idx, err := refs.NewBoltIndex(refs.BoltConfig{Path: filepath.Join(dir, "refs.db")})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	var kept bytes.Buffer
	if err := doSave(ctx, store, idx, &kept, []byte("kept"), "kept", "jpg", refFlags{Kind: string(refs.KindImage), EntityID: "1"}); err != nil {
		t.Fatalf("save kept: %v", err)
	}
	var orphan bytes.Buffer
	if err := doSave(ctx, store, nil, &orphan, []byte("orphan"), "orphan", "mp3", refFlags{}); err != nil {
		t.Fatalf("save orphan: %v", err)
	}
	keptKey := strings.TrimSpace(kept.String())
	orphanKey := strings.TrimSpace(orphan.String())

	var out bytes.Buffer
	if err := doSweep(ctx, store, idx, discardLogger(), &out, sweepOptions{DryRun: true}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out.String(), "orphan\t"+orphanKey) {
		t.Fatalf("dry run output missing orphan: %s", out.String())
	}

	out.Reset()
	if err := doSweep(ctx, store, idx, discardLogger(), &out, sweepOptions{}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out.String(), "deleted\t"+orphanKey) {
		t.Fatalf("sweep output missing deletion: %s", out.String())
	}
	out.Reset()
	if err := doList(ctx, store, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out.String()) != keptKey {
		t.Fatalf("expected only %q left, got %q", keptKey, out.String())
	}
}

func TestSweepPurgesStaleUploads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs := filepath.Join(dir, "blobs")
	store, err := buildStore(ctx, "local", settings{BlobStorePath: blobs, BlobStoreKey: testKey}, discardLogger())
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	idx, err := refs.NewBoltIndex(refs.BoltConfig{Path: filepath.Join(dir, "refs.db")})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	stale := filepath.Join(blobs, ".upload-stale")
	fresh := filepath.Join(blobs, ".upload-fresh")
	for _, path := range []string{stale, fresh} {
		if err := os.WriteFile(path, []byte("partial"), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	var out bytes.Buffer
	if err := doSweep(ctx, store, idx, discardLogger(), &out, sweepOptions{PurgeTemp: time.Hour}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale upload removed, got %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh upload kept: %v", err)
	}
}

func TestSweepRequiresReferenceSource(t *testing.T) {
	ctx := context.Background()
	store, err := buildStore(ctx, "local", settings{BlobStorePath: t.TempDir(), BlobStoreKey: testKey}, discardLogger())
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	err = doSweep(ctx, store, nil, discardLogger(), io.Discard, sweepOptions{})
	if !xerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := parseColumns([]string{"images"}); !xerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error for bad column, got %v", err)
	}
}

func TestLogicalName(t *testing.T) {
	cases := map[string]string{
		"/tmp/photos/cat.jpg": "cat",
		"song":                "song",
		"-":                   "stdin",
	}
	for in, want := range cases {
		if got := logicalName(in); got != want {
			t.Fatalf("logicalName(%q) = %q, want %q", in, got, want)
		}
	}
}
