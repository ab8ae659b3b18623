package canonicalization

import (
	"encoding/json"
	"testing"
)

func TestBuildFQN(t *testing.T) {
	got := BuildFQN("public", "orders")
	if got != "public.orders" {
		t.Errorf("BuildFQN() = %q, expected %q", got, "public.orders")
	}
}

func TestCanonicalizeColumns_SortsByOrdinal(t *testing.T) {
	cols := []Column{
		{Name: "id", Type: "uuid", Nullable: false, Ordinal: 1},
		{Name: "created_at", Type: "timestamptz", Nullable: false, Ordinal: 0},
	}

	canonical, err := CanonicalizeColumns(cols)
	if err != nil {
		t.Fatalf("CanonicalizeColumns() error = %v", err)
	}

	var decoded []Column
	if err := json.Unmarshal(canonical, &decoded); err != nil {
		t.Fatalf("unmarshal canonical output: %v", err)
	}

	if decoded[0].Name != "created_at" || decoded[1].Name != "id" {
		t.Errorf("expected created_at before id, got %+v", decoded)
	}
}

func TestCanonicalizeColumns_OrderIndependent(t *testing.T) {
	a := []Column{
		{Name: "id", Type: "uuid", Ordinal: 0},
		{Name: "email", Type: "text", Ordinal: 1},
	}
	b := []Column{
		{Name: "email", Type: "text", Ordinal: 1},
		{Name: "id", Type: "uuid", Ordinal: 0},
	}

	canonicalA, err := CanonicalizeColumns(a)
	if err != nil {
		t.Fatalf("CanonicalizeColumns(a) error = %v", err)
	}

	canonicalB, err := CanonicalizeColumns(b)
	if err != nil {
		t.Fatalf("CanonicalizeColumns(b) error = %v", err)
	}

	if string(canonicalA) != string(canonicalB) {
		t.Errorf("expected identical canonical form regardless of input order, got %s vs %s", canonicalA, canonicalB)
	}
}

func TestSnapshotHash_Deterministic(t *testing.T) {
	cols := []Column{{Name: "id", Type: "uuid", Ordinal: 0}}

	canonical, err := CanonicalizeColumns(cols)
	if err != nil {
		t.Fatalf("CanonicalizeColumns() error = %v", err)
	}

	h1 := SnapshotHash(canonical)
	h2 := SnapshotHash(canonical)

	if h1 != h2 {
		t.Errorf("expected deterministic hash, got %q and %q", h1, h2)
	}

	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestSnapshotHash_ChangesWithColumns(t *testing.T) {
	cols1, _ := CanonicalizeColumns([]Column{{Name: "id", Type: "uuid", Ordinal: 0}})
	cols2, _ := CanonicalizeColumns([]Column{{Name: "id", Type: "bigint", Ordinal: 0}})

	if SnapshotHash(cols1) == SnapshotHash(cols2) {
		t.Error("expected different hashes for different column types")
	}
}
