package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"conductor/pkg/fsmkit"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "conductor-persistence-test")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	if err := Initialize(filepath.Join(dir, "test.db"), "test-session"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type snapshotPayload struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := NewStore()
	want := snapshotPayload{State: "green_code", Count: 3}
	if err := s.Save("cycle_alpha_story1", want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var got snapshotPayload
	if err := s.Load("cycle_alpha_story1", &got); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestStoreSaveOverwritesExistingSnapshot(t *testing.T) {
	s := NewStore()
	if err := s.Save("owner-overwrite", snapshotPayload{State: "design", Count: 1}); err != nil {
		t.Fatalf("initial Save failed: %v", err)
	}
	if err := s.Save("owner-overwrite", snapshotPayload{State: "commit", Count: 9}); err != nil {
		t.Fatalf("overwrite Save failed: %v", err)
	}

	var got snapshotPayload
	if err := s.Load("owner-overwrite", &got); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := snapshotPayload{State: "commit", Count: 9}
	if got != want {
		t.Fatalf("expected %+v after overwrite, got %+v", want, got)
	}
}

func TestStoreLoadMissingOwnerReturnsErrNotFound(t *testing.T) {
	s := NewStore()
	var got snapshotPayload
	err := s.Load("owner-never-saved", &got)
	if err != fsmkit.ErrNotFound {
		t.Fatalf("expected fsmkit.ErrNotFound, got %v", err)
	}
}
