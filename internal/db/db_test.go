package db

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/capsid-dev/capsid/internal/capsule"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testCapsule(id string) *capsule.Capsule {
	now := time.Now().Unix()
	return &capsule.Capsule{
		ID:        id,
		Slots:     map[string]string{"WHAT": "thing"},
		Weights:   map[string]float64{"WHAT": 2.0},
		Meta:      map[string]any{"pinned": true},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInit_CreatesFilesAndDirs(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "capsid")
	database, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(baseDir, "capsid.db")); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "exports")); err != nil {
		t.Errorf("exports directory missing: %v", err)
	}

	version, err := GetUserVersion(database)
	if err != nil {
		t.Fatalf("GetUserVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_Idempotent(t *testing.T) {
	baseDir := t.TempDir()

	d1, err := Init(baseDir)
	if err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	if err := InsertCapsule(d1, testCapsule("keep"), 1); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}
	d1.Close()

	d2, err := Init(baseDir)
	if err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	defer d2.Close()

	capsules, err := LoadCapsules(d2)
	if err != nil {
		t.Fatalf("LoadCapsules failed: %v", err)
	}
	if len(capsules) != 1 || capsules[0].ID != "keep" {
		t.Errorf("capsules = %+v, want the row to survive reopen", capsules)
	}
}

func TestInsertCapsule_DuplicateID(t *testing.T) {
	database := testDB(t)

	if err := InsertCapsule(database, testCapsule("dup"), 1); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := InsertCapsule(database, testCapsule("dup"), 2)
	if err != ErrUniqueConstraint {
		t.Errorf("second insert error = %v, want ErrUniqueConstraint", err)
	}
}

func TestLoadCapsules_InsertionOrder(t *testing.T) {
	database := testDB(t)

	for i, id := range []string{"c", "a", "b"} {
		if err := InsertCapsule(database, testCapsule(id), i+1); err != nil {
			t.Fatalf("InsertCapsule(%s) failed: %v", id, err)
		}
	}

	capsules, err := LoadCapsules(database)
	if err != nil {
		t.Fatalf("LoadCapsules failed: %v", err)
	}
	var ids []string
	for _, c := range capsules {
		ids = append(ids, c.ID)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestUpdateCapsule(t *testing.T) {
	database := testDB(t)

	c := testCapsule("u1")
	if err := InsertCapsule(database, c, 1); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}

	c.Slots["WHAT"] = "changed"
	c.UpdatedAt = c.UpdatedAt + 10
	if err := UpdateCapsule(database, c); err != nil {
		t.Fatalf("UpdateCapsule failed: %v", err)
	}

	capsules, err := LoadCapsules(database)
	if err != nil {
		t.Fatalf("LoadCapsules failed: %v", err)
	}
	if capsules[0].Slots["WHAT"] != "changed" {
		t.Errorf("Slots[WHAT] = %q, want changed", capsules[0].Slots["WHAT"])
	}
	if capsules[0].UpdatedAt != c.UpdatedAt {
		t.Errorf("UpdatedAt = %d, want %d", capsules[0].UpdatedAt, c.UpdatedAt)
	}
}

func TestUpdateCapsule_NotFound(t *testing.T) {
	database := testDB(t)
	if err := UpdateCapsule(database, testCapsule("ghost")); err == nil {
		t.Error("UpdateCapsule of missing row should fail")
	}
}

func TestDeleteCapsule(t *testing.T) {
	database := testDB(t)

	if err := InsertCapsule(database, testCapsule("gone"), 1); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}
	if err := DeleteCapsule(database, "gone"); err != nil {
		t.Fatalf("DeleteCapsule failed: %v", err)
	}
	if err := DeleteCapsule(database, "gone"); err == nil {
		t.Error("second DeleteCapsule should report not found")
	}
}

func TestMaxPosition(t *testing.T) {
	database := testDB(t)

	pos, err := MaxPosition(database)
	if err != nil {
		t.Fatalf("MaxPosition failed: %v", err)
	}
	if pos != 0 {
		t.Errorf("empty table MaxPosition = %d, want 0", pos)
	}

	if err := InsertCapsule(database, testCapsule("p"), 7); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}
	pos, err = MaxPosition(database)
	if err != nil {
		t.Fatalf("MaxPosition failed: %v", err)
	}
	if pos != 7 {
		t.Errorf("MaxPosition = %d, want 7", pos)
	}
}

func TestCapsuleRoundTrip_SourceAndMaps(t *testing.T) {
	database := testDB(t)

	c := testCapsule("rt")
	c.Source = &capsule.SourceLocation{FilePath: "app/auth.py", LineStart: 3, LineEnd: 9}
	if err := InsertCapsule(database, c, 1); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}

	capsules, err := LoadCapsules(database)
	if err != nil {
		t.Fatalf("LoadCapsules failed: %v", err)
	}
	got := capsules[0]
	if got.Source == nil || got.Source.FilePath != "app/auth.py" || got.Source.LineEnd != 9 {
		t.Errorf("Source = %+v", got.Source)
	}
	if got.Weights["WHAT"] != 2.0 {
		t.Errorf("Weights = %v", got.Weights)
	}
	if got.Meta["pinned"] != true {
		t.Errorf("Meta = %v", got.Meta)
	}
}

func TestReplaceAnnotations(t *testing.T) {
	database := testDB(t)

	first := []capsule.Annotation{
		{
			CapsuleID: "c1",
			Type:      capsule.TypeInline,
			Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 1, LineEnd: 2},
			Slots:     map[string]string{"WHAT": "x"},
		},
		{
			CapsuleID: "c2",
			Type:      capsule.TypeDocstring,
			Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 10, LineEnd: 15},
		},
	}
	if err := ReplaceAnnotations(database, "a.py", first); err != nil {
		t.Fatalf("ReplaceAnnotations failed: %v", err)
	}

	// Re-index replaces, never accumulates
	second := []capsule.Annotation{
		{
			CapsuleID: "c3",
			Type:      capsule.TypeDecorator,
			Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 4, LineEnd: 5},
		},
	}
	if err := ReplaceAnnotations(database, "a.py", second); err != nil {
		t.Fatalf("second ReplaceAnnotations failed: %v", err)
	}

	anns, err := LoadAnnotations(database, "")
	if err != nil {
		t.Fatalf("LoadAnnotations failed: %v", err)
	}
	if len(anns) != 1 || anns[0].CapsuleID != "c3" {
		t.Errorf("annotations = %+v, want only c3", anns)
	}
}

func TestLoadAnnotations_EmptyMapsNotNil(t *testing.T) {
	database := testDB(t)

	// No slots, weights, or meta; columns are stored as NULL
	bare := []capsule.Annotation{{
		CapsuleID: "c1",
		Type:      capsule.TypeInline,
		Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 1, LineEnd: 1},
	}}
	if err := ReplaceAnnotations(database, "a.py", bare); err != nil {
		t.Fatalf("ReplaceAnnotations failed: %v", err)
	}

	anns, err := LoadAnnotations(database, "")
	if err != nil {
		t.Fatalf("LoadAnnotations failed: %v", err)
	}
	if len(anns) != 1 {
		t.Fatalf("got %d annotations, want 1", len(anns))
	}
	got := anns[0]
	if got.Slots == nil || got.Weights == nil || got.Meta == nil {
		t.Errorf("maps should be empty, not nil: slots=%v weights=%v meta=%v",
			got.Slots, got.Weights, got.Meta)
	}

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("serialized annotation contains null: %s", data)
	}
}

func TestLoadAnnotations_PathPrefix(t *testing.T) {
	database := testDB(t)

	files := map[string]string{
		"src/a.py":     "c1",
		"src/sub/b.py": "c2",
		"other/c.py":   "c3",
	}
	for path, id := range files {
		anns := []capsule.Annotation{{
			CapsuleID: id,
			Type:      capsule.TypeInline,
			Location:  capsule.SourceLocation{FilePath: path, LineStart: 1, LineEnd: 1},
		}}
		if err := ReplaceAnnotations(database, path, anns); err != nil {
			t.Fatalf("ReplaceAnnotations(%s) failed: %v", path, err)
		}
	}

	anns, err := LoadAnnotations(database, "src")
	if err != nil {
		t.Fatalf("LoadAnnotations failed: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("got %d annotations under src, want 2", len(anns))
	}
	for _, a := range anns {
		if a.CapsuleID == "c3" {
			t.Errorf("annotation outside prefix returned: %+v", a)
		}
	}
}

func TestCheckpoint(t *testing.T) {
	database := testDB(t)
	if err := InsertCapsule(database, testCapsule("w"), 1); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}
	if err := Checkpoint(database); err != nil {
		t.Errorf("Checkpoint failed: %v", err)
	}
}
