package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type staticIDProvider struct {
	ids   []string
	index int
}

func (p *staticIDProvider) NewID() (string, error) {
	if p.index >= len(p.ids) {
		return "", os.ErrNotExist
	}
	id := p.ids[p.index]
	p.index++
	return id, nil
}

func TestFileSystemStorageSaveAndServeURL(t *testing.T) {
	root := t.TempDir()
	storage := newTestStorage(t, root, nil)

	url, err := storage.Save(context.Background(), "floor_images/1/0_plan.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if url != "/media/floor_images/1/0_plan.png" {
		t.Fatalf("unexpected url %q", url)
	}

	data, err := os.ReadFile(filepath.Join(root, "floor_images", "1", "0_plan.png"))
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestFileSystemStorageDisambiguatesCollisions(t *testing.T) {
	root := t.TempDir()
	storage := newTestStorage(t, root, &staticIDProvider{ids: []string{"copy-1"}})

	first, err := storage.Save(context.Background(), "floor_images/1/0_plan.png", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	second, err := storage.Save(context.Background(), "floor_images/1/0_plan.png", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if first == second {
		t.Fatalf("colliding saves returned the same url %q", first)
	}
	if second != "/media/floor_images/1/0_plan_copy-1.png" {
		t.Fatalf("unexpected disambiguated url %q", second)
	}

	data, err := os.ReadFile(filepath.Join(root, "floor_images", "1", "0_plan.png"))
	if err != nil {
		t.Fatalf("original file missing: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("original file overwritten: %q", data)
	}
}

func TestFileSystemStorageConfinesTraversalKeys(t *testing.T) {
	root := t.TempDir()
	storage := newTestStorage(t, root, nil)

	url, err := storage.Save(context.Background(), "../outside.png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if url != "/media/outside.png" {
		t.Fatalf("unexpected url %q", url)
	}

	if _, err := os.Stat(filepath.Join(root, "outside.png")); err != nil {
		t.Fatalf("file not confined to the root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.png")); !os.IsNotExist(err) {
		t.Fatalf("file escaped the storage root")
	}
}

func TestFileSystemStorageRemoveAll(t *testing.T) {
	root := t.TempDir()
	storage := newTestStorage(t, root, nil)

	if _, err := storage.Save(context.Background(), "floor_images/3/0_a.png", strings.NewReader("a")); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if _, err := storage.Save(context.Background(), "floor_images/4/0_b.png", strings.NewReader("b")); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if err := storage.RemoveAll(context.Background(), "floor_images/3"); err != nil {
		t.Fatalf("unexpected removal error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "floor_images", "3")); !os.IsNotExist(err) {
		t.Fatalf("bucket 3 still present")
	}
	if _, err := os.Stat(filepath.Join(root, "floor_images", "4", "0_b.png")); err != nil {
		t.Fatalf("unrelated bucket removed: %v", err)
	}
}

func newTestStorage(t *testing.T, root string, ids IDProvider) *FileSystemStorage {
	t.Helper()
	storage, err := NewFileSystemStorage(FileSystemStorageConfig{
		Root:       root,
		BaseURL:    "/media",
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("failed to construct storage: %v", err)
	}
	return storage
}
