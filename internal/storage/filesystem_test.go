package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx := context.Background()
	key, err := store.Write(ctx, "clownify_abc123.png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatalf("round trip mismatch: %v", data)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Write(context.Background(), "../escape.png", []byte{0x01}); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
	if _, err := store.Path("../../etc/passwd"); err == nil {
		t.Fatalf("expected traversal path to be rejected")
	}
}
