package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lagonhq/lagon-node/internal/deployment"
)

type fakeDownloader struct {
	bundle Bundle
	err    error
}

func (f *fakeDownloader) Download(ctx context.Context, d *deployment.Deployment) (Bundle, error) {
	return f.bundle, f.err
}

func TestDownloadWritesEntryAndAssets(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dl := &fakeDownloader{bundle: Bundle{
		Entry:  []byte("export default () => new Response('ok')"),
		Assets: map[string][]byte{"static/style.css": []byte("body{}")},
	}}
	d := &deployment.Deployment{ID: "d1"}

	if err := store.Download(context.Background(), d, dl); err != nil {
		t.Fatalf("Download: %v", err)
	}

	entry, err := os.ReadFile(store.EntryPath("d1"))
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(entry) != string(dl.bundle.Entry) {
		t.Fatalf("entry mismatch: %q", entry)
	}

	asset, err := store.Asset("d1", "static/style.css")
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if string(asset) != "body{}" {
		t.Fatalf("asset mismatch: %q", asset)
	}
}

func TestDownloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	d := &deployment.Deployment{ID: "d1"}

	dl1 := &fakeDownloader{bundle: Bundle{Entry: []byte("v1")}}
	dl2 := &fakeDownloader{bundle: Bundle{Entry: []byte("v2")}}

	if err := store.Download(context.Background(), d, dl1); err != nil {
		t.Fatalf("first download: %v", err)
	}
	if err := store.Download(context.Background(), d, dl2); err != nil {
		t.Fatalf("second download: %v", err)
	}

	entry, _ := os.ReadFile(store.EntryPath("d1"))
	if string(entry) != "v2" {
		t.Fatalf("expected overwrite to v2, got %q", entry)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	d := &deployment.Deployment{ID: "d1"}
	_ = store.Download(context.Background(), d, &fakeDownloader{bundle: Bundle{Entry: []byte("x")}})

	if err := store.Remove("d1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(store.Dir("d1")); err == nil {
		t.Fatal("expected directory to be gone")
	}
}

func TestRemoveMissingErrors(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	if err := store.Remove("nope"); err == nil {
		t.Fatal("expected error removing a deployment that was never downloaded")
	}
}

func TestEntryPathUnderDeploymentDir(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	want := filepath.Join(dir, "d1", "index.js")
	if got := store.EntryPath("d1"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
