package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision
	ImportModeReplace ImportMode = "replace" // overwrite on collision
	ImportModeRename  ImportMode = "rename"  // assign a fresh id on collision
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError represents an error that occurred during import.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import reads capsules from a JSONL export file into the store.
func Import(s *Store, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace && input.Mode != ImportModeRename {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, rename")
	}

	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := err.(*errors.CapsidError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)

	// For mode:error, fail on any parse errors before touching the store
	if input.Mode == ImportModeError && len(parseErrors) > 0 {
		return &ImportOutput{Errors: parseErrors}, nil
	}

	imported := 0
	skipped := len(parseErrors)
	importErrors := parseErrors

	for _, rec := range records {
		c := rec.Capsule

		switch input.Mode {
		case ImportModeError:
			if _, err := s.Get(c.ID); err == nil {
				importErrors = append(importErrors, ImportError{
					Line:    rec.line,
					ID:      c.ID,
					Code:    "ID_COLLISION",
					Message: fmt.Sprintf("capsule with id %q already exists", c.ID),
				})
				// Abort on first collision for mode:error
				return &ImportOutput{Imported: 0, Skipped: 0, Errors: importErrors}, nil
			}
			if _, err := s.Create(&c); err != nil {
				return nil, err
			}
			imported++

		case ImportModeReplace:
			if _, _, err := s.Upsert(&c); err != nil {
				importErrors = append(importErrors, ImportError{
					Line:    rec.line,
					ID:      c.ID,
					Code:    "UPSERT_FAILED",
					Message: err.Error(),
				})
				skipped++
				continue
			}
			imported++

		case ImportModeRename:
			if _, err := s.Get(c.ID); err == nil {
				// Collision: let Create assign a fresh ULID
				c.ID = ""
			}
			if _, err := s.Create(&c); err != nil {
				importErrors = append(importErrors, ImportError{
					Line:    rec.line,
					ID:      c.ID,
					Code:    "INSERT_FAILED",
					Message: err.Error(),
				})
				skipped++
				continue
			}
			imported++
		}
	}

	return &ImportOutput{
		Imported: imported,
		Skipped:  skipped,
		Errors:   importErrors,
	}, nil
}

// parsedRecord carries a parsed capsule plus its source line for error
// reporting.
type parsedRecord struct {
	Capsule capsule.Capsule
	line    int
}

// parseExportFile parses a JSONL export file into records.
func parseExportFile(file *os.File) ([]parsedRecord, []ImportError) {
	var records []parsedRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec exportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}

		// Skip header line
		if rec.CapsidExport {
			continue
		}

		if rec.ID == "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "INVALID_RECORD",
				Message: "missing id field",
			})
			continue
		}

		records = append(records, parsedRecord{Capsule: rec.Capsule, line: lineNum})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}

	return records, parseErrors
}
