package crawlhistory

import (
	"context"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "crawl_history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestRecordMissingIsPerOrigin(t *testing.T) {
	store, _ := openTemp(t)
	ctx := context.Background()

	ok, err := store.Missing(ctx, "http://origin", "abc.png")
	if err != nil || ok {
		t.Fatalf("Missing before record: ok=%v err=%v", ok, err)
	}
	if err := store.RecordMissing(ctx, "http://origin", "abc.png"); err != nil {
		t.Fatalf("RecordMissing: %v", err)
	}
	if err := store.RecordMissing(ctx, "http://origin", "abc.png"); err != nil {
		t.Fatalf("RecordMissing again: %v", err)
	}
	ok, err = store.Missing(ctx, "http://origin", "abc.png")
	if err != nil || !ok {
		t.Fatalf("Missing after record: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.Missing(ctx, "http://mirror", "abc.png"); ok {
		t.Fatal("miss on one origin leaked to another")
	}
	n, err := store.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestHistorySurvivesReopen(t *testing.T) {
	store, path := openTemp(t)
	ctx := context.Background()
	if err := store.RecordMissing(ctx, "http://origin", "def.wav"); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	ok, err := reopened.Missing(ctx, "http://origin", "def.wav")
	if err != nil || !ok {
		t.Fatalf("key lost across reopen: ok=%v err=%v", ok, err)
	}
}

func TestForgetClearsEveryOrigin(t *testing.T) {
	store, _ := openTemp(t)
	ctx := context.Background()
	_ = store.RecordMissing(ctx, "a", "abc.png")
	_ = store.RecordMissing(ctx, "b", "abc.png")
	_ = store.RecordMissing(ctx, "a", "other.png")
	n, err := store.Forget(ctx, "abc.png")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries removed, got %d", n)
	}
	if ok, _ := store.Missing(ctx, "a", "abc.png"); ok {
		t.Fatal("key still present after Forget")
	}
	if ok, _ := store.Missing(ctx, "a", "other.png"); !ok {
		t.Fatal("Forget removed an unrelated key")
	}
}
