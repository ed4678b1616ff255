package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreatePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node-identity.json")

	id1, ephemeral1, err := LoadOrCreate(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if ephemeral1 {
		t.Fatal("expected a first-run identity to be persisted, not ephemeral")
	}

	id2, ephemeral2, err := LoadOrCreate(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if ephemeral2 {
		t.Fatal("expected the reloaded identity to be persisted, not ephemeral")
	}
	if id1.PeerID != id2.PeerID {
		t.Fatalf("expected the same peer id across reloads, got %s and %s", id1.PeerID, id2.PeerID)
	}
}

func TestLoadOrCreatePortConflictIsEphemeralAndUnpersisted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node-identity.json")

	id, ephemeral, err := LoadOrCreate(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ephemeral {
		t.Fatal("expected a port-conflict identity to be ephemeral")
	}
	if id.PeerID == "" {
		t.Fatal("expected a valid derived peer id")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("expected an ephemeral identity to never be written to disk")
	}
}

func TestLoadOrCreateRegeneratesOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node-identity.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, ephemeral, err := LoadOrCreate(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if ephemeral {
		t.Fatal("expected a regenerated identity to be persisted, not ephemeral")
	}
	if id.PeerID == "" {
		t.Fatal("expected a valid derived peer id after regeneration")
	}
}
