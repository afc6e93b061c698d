package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/capsid-dev/capsid/internal/annotation"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
	"github.com/capsid-dev/capsid/internal/store"
)

// FileError records a file the scanner could not process. One bad file
// never aborts the walk.
type FileError struct {
	FilePath string `json:"file_path"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// IndexResult aggregates one workspace indexing run.
type IndexResult struct {
	WorkspacePath        string               `json:"workspace_path"`
	FilesScanned         int                  `json:"files_scanned"`
	FilesWithAnnotations int                  `json:"files_with_annotations"`
	TotalAnnotations     int                  `json:"total_annotations"`
	AnnotationsByFile    map[string]int       `json:"annotations_by_file"`
	CreatedCapsules      []string             `json:"created_capsules"`
	FileErrors           []FileError          `json:"errors,omitempty"`
	Warnings             []annotation.Warning `json:"warnings,omitempty"`
}

// Scanner walks a workspace tree, extracts annotations from source
// files, and feeds them into the capsule store.
type Scanner struct {
	cfg    *config.Config
	store  *store.Store
	parser *annotation.Parser
	ignore []glob.Glob
}

// New builds a Scanner for the given config and store. Invalid ignore
// globs are a configuration error.
func New(cfg *config.Config, st *store.Store) (*Scanner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ignore := make([]glob.Glob, 0, len(cfg.IgnoreGlobs))
	for _, pattern := range cfg.IgnoreGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid ignore glob %q: %v", pattern, err))
		}
		ignore = append(ignore, g)
	}

	return &Scanner{
		cfg:    cfg,
		store:  st,
		parser: annotation.NewParser(cfg.CommentPrefixes),
		ignore: ignore,
	}, nil
}

// Index recursively scans workspacePath, replacing the recorded
// annotations of every scanned file and upserting the capsules they
// describe. Unreadable files become FileErrors; malformed annotations
// become Warnings; both leave the rest of the run intact.
func (s *Scanner) Index(ctx context.Context, workspacePath string) (*IndexResult, error) {
	info, err := os.Stat(workspacePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(workspacePath)
		}
		return nil, errors.NewInternal(err)
	}
	if !info.IsDir() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("workspace path is not a directory: %s", workspacePath))
	}

	result := &IndexResult{
		WorkspacePath:     workspacePath,
		AnnotationsByFile: map[string]int{},
	}

	walkErr := filepath.WalkDir(workspacePath, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable directory entries are isolated like bad files
			result.FileErrors = append(result.FileErrors, FileError{
				FilePath: relPath(workspacePath, path),
				Code:     "READ_ERROR",
				Message:  err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel := relPath(workspacePath, path)
		if d.IsDir() {
			if path != workspacePath && s.ignored(d.Name(), rel) {
				return fs.SkipDir
			}
			return nil
		}

		if s.ignored(d.Name(), rel) || !s.hasSourceExtension(d.Name()) {
			return nil
		}

		s.scanFile(path, rel, d, result)
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewInternal(walkErr)
	}

	sort.Strings(result.CreatedCapsules)
	return result, nil
}

// scanFile processes one source file, folding its outcome into result.
func (s *Scanner) scanFile(path, rel string, d fs.DirEntry, result *IndexResult) {
	result.FilesScanned++

	fileInfo, err := d.Info()
	if err != nil {
		result.FileErrors = append(result.FileErrors, FileError{
			FilePath: rel,
			Code:     "READ_ERROR",
			Message:  err.Error(),
		})
		return
	}
	if s.cfg.MaxFileBytes > 0 && fileInfo.Size() > int64(s.cfg.MaxFileBytes) {
		result.Warnings = append(result.Warnings, annotation.Warning{
			FilePath: rel,
			Reason:   fmt.Sprintf("file exceeds %d bytes; skipped", s.cfg.MaxFileBytes),
		})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.FileErrors = append(result.FileErrors, FileError{
			FilePath: rel,
			Code:     "READ_ERROR",
			Message:  err.Error(),
		})
		return
	}

	content, err := annotation.Decode(data)
	if err != nil {
		result.FileErrors = append(result.FileErrors, FileError{
			FilePath: rel,
			Code:     string(errors.ErrDecode),
			Message:  err.Error(),
		})
		return
	}

	anns, warnings := s.parser.Parse(content, rel)
	result.Warnings = append(result.Warnings, warnings...)

	created, err := s.store.RecordAnnotations(rel, anns)
	if err != nil {
		result.FileErrors = append(result.FileErrors, FileError{
			FilePath: rel,
			Code:     string(errors.ErrInternal),
			Message:  err.Error(),
		})
		return
	}

	result.CreatedCapsules = append(result.CreatedCapsules, created...)
	if len(anns) > 0 {
		result.FilesWithAnnotations++
		result.AnnotationsByFile[rel] = len(anns)
		result.TotalAnnotations += len(anns)
	}
}

// ignored reports whether a path component or workspace-relative path
// matches any configured ignore glob.
func (s *Scanner) ignored(name, rel string) bool {
	for _, g := range s.ignore {
		if g.Match(name) || g.Match(rel) {
			return true
		}
	}
	return false
}

// hasSourceExtension reports whether the file name carries one of the
// configured source extensions.
func (s *Scanner) hasSourceExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range s.cfg.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// relPath renders path relative to the workspace root with forward
// slashes, falling back to the input when it is not beneath the root.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
