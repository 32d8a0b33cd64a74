package rng

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"lukechampine.com/frand"
)

func TestFetchReturnsCollaboratorOutput(t *testing.T) {
	want := frand.Bytes(Size)
	path := filepath.Join(t.TempDir(), "rand.bin")
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f := NewFetcher("cat " + path)
	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Fetch returned %x, want %x", got, want)
	}
}

func TestFetchRejectsWrongLength(t *testing.T) {
	f := NewFetcher("echo short")
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatalf("expected an error for a short collaborator output")
	}
}

func TestFetchPropagatesCollaboratorFailure(t *testing.T) {
	f := NewFetcher("exit 1")
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatalf("expected an error when the collaborator exits non-zero")
	}
}
