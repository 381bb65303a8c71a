package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sceneflow/internal/config"
	"sceneflow/internal/objectstore"
	"sceneflow/internal/testsupport"
)

func newStore(t *testing.T, publicBase string) *objectstore.FS {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := objectstore.NewFS(config.ObjectStore{
		Bucket:        cfg.ObjectStore.Bucket,
		PublicBaseURL: publicBase,
	})
	if err != nil {
		t.Fatalf("objectstore.NewFS: %v", err)
	}
	return store
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store := newStore(t, "")
	ctx := context.Background()

	desc := objectstore.Descriptor{
		ProjectID: "proj-1",
		Kind:      objectstore.KindVideo,
		EntityID:  "scene-1",
		Filename:  "clip.mp4",
	}
	uri, err := store.UploadBuffer(ctx, []byte("fake video bytes"), desc)
	if err != nil {
		t.Fatalf("UploadBuffer: %v", err)
	}
	if !strings.HasPrefix(uri, "store://") {
		t.Fatalf("unexpected uri %q", uri)
	}

	exists, err := store.FileExists(ctx, uri)
	if err != nil {
		t.Fatalf("FileExists: %v", err)
	}
	if !exists {
		t.Fatal("uploaded object missing")
	}

	data, err := store.DownloadToBuffer(ctx, uri)
	if err != nil {
		t.Fatalf("DownloadToBuffer: %v", err)
	}
	if string(data) != "fake video bytes" {
		t.Fatalf("unexpected contents %q", data)
	}

	target := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	if err := store.DownloadFile(ctx, uri, target); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
}

func TestUploadFileAndJSON(t *testing.T) {
	store := newStore(t, "")
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "track.mp3")
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	uri, err := store.UploadFile(ctx, source, objectstore.Descriptor{
		ProjectID: "proj-1",
		Kind:      objectstore.KindAudio,
		Filename:  "track.mp3",
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if exists, _ := store.FileExists(ctx, uri); !exists {
		t.Fatal("uploaded audio missing")
	}

	jsonURI, err := store.UploadJSON(ctx, map[string]int{"scenes": 3}, objectstore.Descriptor{
		ProjectID: "proj-1",
		Kind:      objectstore.KindDoc,
		Filename:  "storyboard.json",
	})
	if err != nil {
		t.Fatalf("UploadJSON: %v", err)
	}
	data, err := store.DownloadToBuffer(ctx, jsonURI)
	if err != nil {
		t.Fatalf("DownloadToBuffer: %v", err)
	}
	if !strings.Contains(string(data), `"scenes"`) {
		t.Fatalf("unexpected json %q", data)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	store := newStore(t, "https://cdn.example.com/media")

	desc := objectstore.Descriptor{ProjectID: "proj-1", Kind: objectstore.KindFrame, EntityID: "scene-2", Filename: "frame.png"}
	uri := store.StorageURL(desc)

	once := store.NormalizeURL(uri)
	twice := store.NormalizeURL(once)
	if once != twice {
		t.Fatalf("normalization not idempotent: %q vs %q", once, twice)
	}
	if once != store.ObjectPath(desc) {
		t.Fatalf("normalized uri %q != object path %q", once, store.ObjectPath(desc))
	}

	public := store.PublicURL(uri)
	if public != "https://cdn.example.com/media/"+store.ObjectPath(desc) {
		t.Fatalf("unexpected public url %q", public)
	}
	if store.NormalizeURL(public) != once {
		t.Fatalf("public url did not normalize back to object path")
	}
}

func TestDescriptorValidation(t *testing.T) {
	store := newStore(t, "")
	_, err := store.UploadBuffer(context.Background(), []byte("x"), objectstore.Descriptor{Kind: objectstore.KindDoc})
	if err == nil {
		t.Fatal("expected error for incomplete descriptor")
	}
}
