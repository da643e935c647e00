package mcp

import "testing"

func TestContextStore_Snapshot(t *testing.T) {
	s := NewContextStore()
	if s.Snapshot() != nil {
		t.Error("empty store should snapshot to nil")
	}

	s.Set("branch", "main")
	s.Set("files", 3)
	snap := s.Snapshot()
	if snap["branch"] != "main" || snap["files"] != 3 {
		t.Errorf("Snapshot() = %v", snap)
	}

	// Snapshots are copies
	snap["branch"] = "other"
	if s.Snapshot()["branch"] != "main" {
		t.Error("mutating a snapshot changed the store")
	}

	s.Delete("files")
	if _, ok := s.Snapshot()["files"]; ok {
		t.Error("Delete did not remove key")
	}
	s.Clear()
	if s.Snapshot() != nil {
		t.Error("Clear did not empty the store")
	}

	var nilStore *ContextStore
	if nilStore.Snapshot() != nil {
		t.Error("nil store should snapshot to nil")
	}
}
