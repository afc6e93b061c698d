package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
)

func exportConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	// Resolve symlinks so allowed-dir matching works on platforms where
	// the temp dir is behind a symlink (macOS /var -> /private/var)
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks failed: %v", err)
	}
	return &config.Config{AllowedPaths: []string{resolved}}, resolved
}

func TestExport_WritesHeaderAndRecords(t *testing.T) {
	s := testStore(t)
	cfg, dir := exportConfig(t)

	for _, id := range []string{"e1", "e2"} {
		if _, err := s.Create(&capsule.Capsule{ID: id, Slots: map[string]string{"k": id}}); err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
	}

	path := filepath.Join(dir, "out.jsonl")
	out, err := Export(context.Background(), s, cfg, ExportInput{Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export failed: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 records", len(lines))
	}

	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header unmarshal failed: %v", err)
	}
	if !header.CapsidExport || header.SchemaVersion != "1.0" {
		t.Errorf("header = %+v", header)
	}

	var first capsule.Capsule
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatalf("record unmarshal failed: %v", err)
	}
	if first.ID != "e1" {
		t.Errorf("first record id = %q, want e1 (insertion order)", first.ID)
	}
}

func TestExport_RejectsWrongExtension(t *testing.T) {
	s := testStore(t)
	cfg, dir := exportConfig(t)

	_, err := Export(context.Background(), s, cfg, ExportInput{Path: filepath.Join(dir, "out.txt")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestExport_RejectsTraversal(t *testing.T) {
	s := testStore(t)
	cfg, dir := exportConfig(t)

	_, err := Export(context.Background(), s, cfg, ExportInput{Path: filepath.Join(dir, "..", "out.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestExport_RejectsSubdirectory(t *testing.T) {
	s := testStore(t)
	cfg, dir := exportConfig(t)

	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	_, err := Export(context.Background(), s, cfg, ExportInput{Path: filepath.Join(sub, "out.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST (no subdirectories)", err)
	}
}

func TestImport_RoundTrip(t *testing.T) {
	src := testStore(t)
	cfg, dir := exportConfig(t)

	if _, err := src.Create(&capsule.Capsule{
		ID:      "rt",
		Slots:   map[string]string{"WHAT": "x"},
		Weights: map[string]float64{"WHAT": 2.0},
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	path := filepath.Join(dir, "rt.jsonl")
	if _, err := Export(context.Background(), src, cfg, ExportInput{Path: path}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := testStore(t)
	out, err := Import(dst, cfg, ImportInput{Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 1 || len(out.Errors) != 0 {
		t.Fatalf("Import output = %+v", out)
	}

	got, err := dst.Get("rt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slots["WHAT"] != "x" || got.Weights["WHAT"] != 2.0 {
		t.Errorf("imported capsule = %+v", got)
	}
}

func TestImport_ModeErrorAbortsOnCollision(t *testing.T) {
	cfg, dir := exportConfig(t)
	path := filepath.Join(dir, "dup.jsonl")
	writeImportFile(t, path, []string{
		`{"_capsid_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"id":"taken","bindings":{"k":"v"}}`,
	})

	s := testStore(t)
	if _, err := s.Create(&capsule.Capsule{ID: "taken"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := Import(s, cfg, ImportInput{Path: path, Mode: ImportModeError})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 0 {
		t.Errorf("Imported = %d, want 0", out.Imported)
	}
	if len(out.Errors) != 1 || out.Errors[0].Code != "ID_COLLISION" {
		t.Errorf("Errors = %+v", out.Errors)
	}
}

func TestImport_ModeReplaceOverwrites(t *testing.T) {
	cfg, dir := exportConfig(t)
	path := filepath.Join(dir, "replace.jsonl")
	writeImportFile(t, path, []string{
		`{"_capsid_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"id":"taken","bindings":{"k":"new"}}`,
	})

	s := testStore(t)
	if _, err := s.Create(&capsule.Capsule{ID: "taken", Slots: map[string]string{"k": "old"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := Import(s, cfg, ImportInput{Path: path, Mode: ImportModeReplace})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 1 {
		t.Errorf("Imported = %d, want 1", out.Imported)
	}
	got, err := s.Get("taken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slots["k"] != "new" {
		t.Errorf("Slots[k] = %q, want new", got.Slots["k"])
	}
}

func TestImport_ModeRenameKeepsBoth(t *testing.T) {
	cfg, dir := exportConfig(t)
	path := filepath.Join(dir, "rename.jsonl")
	writeImportFile(t, path, []string{
		`{"_capsid_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"id":"taken","bindings":{"k":"incoming"}}`,
	})

	s := testStore(t)
	if _, err := s.Create(&capsule.Capsule{ID: "taken", Slots: map[string]string{"k": "original"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := Import(s, cfg, ImportInput{Path: path, Mode: ImportModeRename})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 1 {
		t.Errorf("Imported = %d, want 1", out.Imported)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2 (original kept, incoming renamed)", s.Len())
	}
	got, err := s.Get("taken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slots["k"] != "original" {
		t.Errorf("original capsule overwritten: %+v", got)
	}
}

func TestImport_MalformedLineReported(t *testing.T) {
	cfg, dir := exportConfig(t)
	path := filepath.Join(dir, "bad.jsonl")
	writeImportFile(t, path, []string{
		`{"_capsid_export":true,"schema_version":"1.0","exported_at":1}`,
		`not json at all`,
		`{"id":"good"}`,
	})

	s := testStore(t)
	out, err := Import(s, cfg, ImportInput{Path: path, Mode: ImportModeReplace})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 1 || out.Skipped != 1 {
		t.Errorf("output = %+v, want 1 imported, 1 skipped", out)
	}
	if len(out.Errors) != 1 || out.Errors[0].Code != "PARSE_ERROR" {
		t.Errorf("Errors = %+v", out.Errors)
	}
}

func TestImport_MissingFile(t *testing.T) {
	cfg, dir := exportConfig(t)
	s := testStore(t)

	_, err := Import(s, cfg, ImportInput{Path: filepath.Join(dir, "missing.jsonl")})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func writeImportFile(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("write import file failed: %v", err)
	}
}
