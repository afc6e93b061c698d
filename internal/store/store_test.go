package store

import (
	"database/sql"
	"testing"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/db"
	"github.com/capsid-dev/capsid/internal/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, _ := testStoreWithDB(t)
	return s
}

func testStoreWithDB(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	s, err := New(database)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, database
}

func TestCreate_GeneratesULID(t *testing.T) {
	s := testStore(t)

	created, err := s.Create(&capsule.Capsule{
		Slots: map[string]string{"WHAT": "auth"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.ID) != 26 {
		t.Errorf("generated id = %q, want 26-char ULID", created.ID)
	}
	if created.CreatedAt == 0 || created.UpdatedAt != created.CreatedAt {
		t.Errorf("timestamps = %d/%d", created.CreatedAt, created.UpdatedAt)
	}
}

func TestCreate_ExplicitDuplicateID(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create(&capsule.Capsule{ID: "c1"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := s.Create(&capsule.Capsule{ID: "c1"})
	if !errors.Is(err, errors.ErrDuplicateID) {
		t.Errorf("second Create error = %v, want DUPLICATE_ID", err)
	}
}

func TestCreate_NormalizesID(t *testing.T) {
	s := testStore(t)

	created, err := s.Create(&capsule.Capsule{ID: "  my   capsule  "})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != "my capsule" {
		t.Errorf("ID = %q, want %q", created.ID, "my capsule")
	}

	if _, err := s.Get("my capsule"); err != nil {
		t.Errorf("Get by normalized id failed: %v", err)
	}
}

func TestUpsert_CreateThenUpdate(t *testing.T) {
	s := testStore(t)

	first, isNew, err := s.Upsert(&capsule.Capsule{
		ID:    "u1",
		Slots: map[string]string{"WHAT": "v1"},
	})
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if !isNew {
		t.Error("first Upsert should report created")
	}

	second, isNew, err := s.Upsert(&capsule.Capsule{
		ID:    "u1",
		Slots: map[string]string{"WHAT": "v2"},
	})
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if isNew {
		t.Error("second Upsert should report updated")
	}
	if second.Slots["WHAT"] != "v2" {
		t.Errorf("Slots[WHAT] = %q, want v2", second.Slots["WHAT"])
	}
	if second.CreatedAt != first.CreatedAt {
		t.Errorf("CreatedAt changed on update: %d -> %d", first.CreatedAt, second.CreatedAt)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestUpsert_IdenticalIsNoOp(t *testing.T) {
	s := testStore(t)

	c := &capsule.Capsule{ID: "same", Slots: map[string]string{"WHAT": "x"}}
	first, _, err := s.Upsert(c)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	second, isNew, err := s.Upsert(c)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if isNew {
		t.Error("identical Upsert reported created")
	}
	if second.UpdatedAt != first.UpdatedAt {
		t.Errorf("UpdatedAt changed on identical upsert: %d -> %d", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpsert_EmptyID(t *testing.T) {
	s := testStore(t)
	if _, _, err := s.Upsert(&capsule.Capsule{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Upsert with empty id error = %v, want INVALID_REQUEST", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get error = %v, want NOT_FOUND", err)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create(&capsule.Capsule{ID: "d1"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Delete("d1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("d1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Delete error = %v, want NOT_FOUND", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(&capsule.Capsule{ID: id}); err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
	}
	removed, err := s.Clear()
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestList_InsertionOrder(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"z", "a", "m"} {
		if _, err := s.Create(&capsule.Capsule{ID: id}); err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
	}

	// Updates never reorder
	if _, _, err := s.Upsert(&capsule.Capsule{ID: "z", Slots: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	var ids []string
	for _, c := range s.List() {
		ids = append(ids, c.ID)
	}
	want := []string{"z", "a", "m"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestList_ResultsAreCopies(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create(&capsule.Capsule{ID: "c1", Slots: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s.List()[0].Slots["k"] = "mutated"

	got, err := s.Get("c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slots["k"] != "v" {
		t.Error("mutating a List result leaked into the store")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	baseDir := t.TempDir()

	database, err := db.Init(baseDir)
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	s, err := New(database)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Create(&capsule.Capsule{ID: "persisted", Slots: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	database.Close()

	database2, err := db.Init(baseDir)
	if err != nil {
		t.Fatalf("reopen db.Init failed: %v", err)
	}
	defer database2.Close()
	s2, err := New(database2)
	if err != nil {
		t.Fatalf("reopen New failed: %v", err)
	}

	got, err := s2.Get("persisted")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Slots["k"] != "v" {
		t.Errorf("Slots = %v", got.Slots)
	}

	// New ids must not collide with positions already used
	if _, err := s2.Create(&capsule.Capsule{ID: "after-reopen"}); err != nil {
		t.Fatalf("Create after reopen failed: %v", err)
	}
}

func TestRecordAnnotations_UpsertsCapsules(t *testing.T) {
	s := testStore(t)

	anns := []capsule.Annotation{
		{
			CapsuleID: "c1",
			Type:      capsule.TypeInline,
			Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 1, LineEnd: 2},
			Slots:     map[string]string{"WHAT": "x"},
		},
		{
			// Empty id: recorded, but no capsule
			Type:     capsule.TypeDocstring,
			Location: capsule.SourceLocation{FilePath: "a.py", LineStart: 5, LineEnd: 9},
		},
	}

	created, err := s.RecordAnnotations("a.py", anns)
	if err != nil {
		t.Fatalf("RecordAnnotations failed: %v", err)
	}
	if len(created) != 1 || created[0] != "c1" {
		t.Errorf("created = %v, want [c1]", created)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	got, err := s.Get("c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Source == nil || got.Source.FilePath != "a.py" {
		t.Errorf("Source = %+v", got.Source)
	}

	stored, err := s.Annotations("")
	if err != nil {
		t.Fatalf("Annotations failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("got %d recorded annotations, want 2 (empty id kept)", len(stored))
	}
}

func TestRecordAnnotations_ReindexReplaces(t *testing.T) {
	s := testStore(t)

	first := []capsule.Annotation{{
		CapsuleID: "c1",
		Type:      capsule.TypeInline,
		Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 1, LineEnd: 1},
	}}
	if _, err := s.RecordAnnotations("a.py", first); err != nil {
		t.Fatalf("first RecordAnnotations failed: %v", err)
	}

	second := []capsule.Annotation{{
		CapsuleID: "c2",
		Type:      capsule.TypeInline,
		Location:  capsule.SourceLocation{FilePath: "a.py", LineStart: 3, LineEnd: 3},
	}}
	created, err := s.RecordAnnotations("a.py", second)
	if err != nil {
		t.Fatalf("second RecordAnnotations failed: %v", err)
	}
	if len(created) != 1 || created[0] != "c2" {
		t.Errorf("created = %v, want [c2]", created)
	}

	stored, err := s.Annotations("a.py")
	if err != nil {
		t.Fatalf("Annotations failed: %v", err)
	}
	if len(stored) != 1 || stored[0].CapsuleID != "c2" {
		t.Errorf("annotations = %+v, want only c2", stored)
	}

	// Capsules from the earlier index remain; only annotations are replaced
	if _, err := s.Get("c1"); err != nil {
		t.Errorf("c1 should survive re-index: %v", err)
	}
}
