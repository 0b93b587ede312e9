package file

import (
	"testing"

	"github.com/nodebridge/matter-bridge/pkg/fabric"
)

func TestStoragePersistsFabricAcrossReload(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	info := &fabric.FabricInfo{
		FabricIndex: 1,
		FabricID:    0xAABBCCDD,
		NodeID:      42,
		VendorID:    0xFFF1,
		Label:       "test fabric",
	}
	if err := s.SaveFabric(info); err != nil {
		t.Fatalf("SaveFabric: %v", err)
	}

	reloaded, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage (reload): %v", err)
	}

	fabrics, err := reloaded.LoadFabrics()
	if err != nil {
		t.Fatalf("LoadFabrics: %v", err)
	}
	if len(fabrics) != 1 {
		t.Fatalf("expected 1 fabric, got %d", len(fabrics))
	}
	if fabrics[0].Label != "test fabric" {
		t.Errorf("label = %q, want %q", fabrics[0].Label, "test fabric")
	}
}

func TestStorageDeleteFabric(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	if err := s.SaveFabric(&fabric.FabricInfo{FabricIndex: 1}); err != nil {
		t.Fatalf("SaveFabric: %v", err)
	}
	if err := s.DeleteFabric(1); err != nil {
		t.Fatalf("DeleteFabric: %v", err)
	}

	fabrics, err := s.LoadFabrics()
	if err != nil {
		t.Fatalf("LoadFabrics: %v", err)
	}
	if len(fabrics) != 0 {
		t.Errorf("expected 0 fabrics after delete, got %d", len(fabrics))
	}
}
