package archive

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStoragePutGet(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	data := []byte("snappy compressed partition dump")
	if err := store.Put(ctx, "partitions/events_202608.ndjson.snappy", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "partitions/events_202608.ndjson.snappy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestLocalStoragePutOverwrites(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "obj", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "obj", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(ctx, "obj")
	if string(got) != "v2" {
		t.Errorf("Get = %q, want v2", got)
	}
}

func TestLocalStorageGetMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	_, err = store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get missing = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorageExists(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	ok, err := store.Exists(ctx, "obj")
	if err != nil || ok {
		t.Errorf("Exists before put = %v, %v", ok, err)
	}

	store.Put(ctx, "obj", []byte("x"))

	ok, err = store.Exists(ctx, "obj")
	if err != nil || !ok {
		t.Errorf("Exists after put = %v, %v", ok, err)
	}
}

func TestLocalStorageDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	store.Put(ctx, "obj", []byte("x"))
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := store.Exists(ctx, "obj"); ok {
		t.Error("object still exists after delete")
	}

	// Deleting a missing object is not an error.
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestLocalStorageList(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	store.Put(ctx, "partitions/events_202606.ndjson.snappy", []byte("a"))
	store.Put(ctx, "partitions/events_202607.ndjson.snappy", []byte("b"))
	store.Put(ctx, "other/file", []byte("c"))

	objects, err := store.List(ctx, "partitions/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("List returned %d objects, want 2: %v", len(objects), objects)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List all returned %d objects, want 3", len(all))
	}
}

func TestLocalStorageHonorsCancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "obj", []byte("x")); err == nil {
		t.Error("Put with cancelled context should fail")
	}
}
