package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Extensions) == 0 || cfg.Extensions[0] != ".py" {
		t.Errorf("Extensions = %v, want default [.py ...]", cfg.Extensions)
	}
	if cfg.MaxFileBytes != 2<<20 {
		t.Errorf("MaxFileBytes = %d, want %d", cfg.MaxFileBytes, 2<<20)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{"extensions": [".py", ".go"], "max_file_bytes": 1024, "disabled_tools": ["capsule_create"]}`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Extensions) != 2 {
		t.Errorf("Extensions = %v, want [.py .go]", cfg.Extensions)
	}
	if cfg.MaxFileBytes != 1024 {
		t.Errorf("MaxFileBytes = %d, want 1024", cfg.MaxFileBytes)
	}
	if len(cfg.DisabledTools) != 1 || cfg.DisabledTools[0] != "capsule_create" {
		t.Errorf("DisabledTools = %v", cfg.DisabledTools)
	}
	// Defaults survive for untouched fields
	if len(cfg.CommentPrefixes) != 2 {
		t.Errorf("CommentPrefixes = %v, want defaults", cfg.CommentPrefixes)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Error("Load should fail on invalid JSON")
	}
}

func TestMerge_ExtensionsReplaced(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{Extensions: []string{".go"}}

	merged := Merge(base, overlay)
	if len(merged.Extensions) != 1 || merged.Extensions[0] != ".go" {
		t.Errorf("Extensions = %v, want overlay to replace", merged.Extensions)
	}
}

func TestMerge_IgnoreGlobsMerged(t *testing.T) {
	base := &Config{IgnoreGlobs: []string{".git", "dist"}}
	overlay := &Config{IgnoreGlobs: []string{"dist", "build"}}

	merged := Merge(base, overlay)
	want := []string{".git", "dist", "build"}
	if len(merged.IgnoreGlobs) != len(want) {
		t.Fatalf("IgnoreGlobs = %v, want %v", merged.IgnoreGlobs, want)
	}
	for i, g := range want {
		if merged.IgnoreGlobs[i] != g {
			t.Errorf("IgnoreGlobs[%d] = %q, want %q", i, merged.IgnoreGlobs[i], g)
		}
	}
}

func TestLoadWithRepo_RepoOverridesGlobal(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalJSON := `{"max_file_bytes": 4096}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalJSON), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	repoConfigDir := filepath.Join(repoRoot, ".capsid")
	if err := os.MkdirAll(repoConfigDir, 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	repoJSON := `{"max_file_bytes": 8192}`
	if err := os.WriteFile(filepath.Join(repoConfigDir, "config.json"), []byte(repoJSON), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Start from a nested dir to exercise upward walking
	nested := filepath.Join(repoRoot, "src", "pkg")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo failed: %v", err)
	}
	if cfg.MaxFileBytes != 8192 {
		t.Errorf("MaxFileBytes = %d, want repo value 8192", cfg.MaxFileBytes)
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if p := FindRepoConfig(t.TempDir()); p != "" {
		t.Errorf("FindRepoConfig = %q, want empty", p)
	}
}
