package db

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.CapsidError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// InsertCapsule stores a new capsule row at the given position.
func InsertCapsule(db *sql.DB, c *capsule.Capsule, position int) error {
	slotsJSON, weightsJSON, metaJSON, err := encodeMaps(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO capsules (
			id, position, slots_json, weights_json, meta_json,
			source_file, source_line_start, source_line_end,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	srcFile, srcStart, srcEnd := sourceColumns(c.Source)
	_, err = db.Exec(query,
		c.ID, position, slotsJSON, weightsJSON, metaJSON,
		srcFile, srcStart, srcEnd,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// UpdateCapsule rewrites the content columns of an existing capsule row.
// Position and created_at never change on update.
func UpdateCapsule(db *sql.DB, c *capsule.Capsule) error {
	slotsJSON, weightsJSON, metaJSON, err := encodeMaps(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE capsules
		SET slots_json = ?, weights_json = ?, meta_json = ?,
			source_file = ?, source_line_start = ?, source_line_end = ?,
			updated_at = ?
		WHERE id = ?
	`

	srcFile, srcStart, srcEnd := sourceColumns(c.Source)
	result, err := db.Exec(query,
		slotsJSON, weightsJSON, metaJSON,
		srcFile, srcStart, srcEnd,
		c.UpdatedAt, c.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(c.ID)
	}

	return nil
}

// DeleteCapsule removes a capsule row by id.
func DeleteCapsule(db *sql.DB, id string) error {
	result, err := db.Exec(`DELETE FROM capsules WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// ClearCapsules removes every capsule and annotation row.
func ClearCapsules(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM capsules`); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := db.Exec(`DELETE FROM annotations`); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadCapsules reads all capsule rows ordered by insertion position.
func LoadCapsules(db *sql.DB) ([]*capsule.Capsule, error) {
	query := `
		SELECT id, slots_json, weights_json, meta_json,
			source_file, source_line_start, source_line_end,
			created_at, updated_at
		FROM capsules
		ORDER BY position ASC
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var capsules []*capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		capsules = append(capsules, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return capsules, nil
}

// MaxPosition returns the highest position assigned so far, or 0 for an
// empty table.
func MaxPosition(db *sql.DB) (int, error) {
	var max sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(position) FROM capsules`).Scan(&max); err != nil {
		return 0, errors.NewInternal(err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// ReplaceAnnotations swaps the recorded annotations for a file in one
// transaction. Re-indexing a file replaces its annotations rather than
// accumulating duplicates.
func ReplaceAnnotations(db *sql.DB, filePath string, anns []capsule.Annotation) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM annotations WHERE file_path = ?`, filePath); err != nil {
		return errors.NewInternal(err)
	}

	insert := `
		INSERT INTO annotations (
			capsule_id, type, file_path, line_start, line_end,
			slots_json, weights_json, meta_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range anns {
		slotsJSON, err := marshalMap(a.Slots)
		if err != nil {
			return err
		}
		weightsJSON, err := marshalMap(a.Weights)
		if err != nil {
			return err
		}
		metaJSON, err := marshalMap(a.Meta)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(insert,
			a.CapsuleID, string(a.Type), filePath,
			a.Location.LineStart, a.Location.LineEnd,
			slotsJSON, weightsJSON, metaJSON,
		); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadAnnotations reads recorded annotations, optionally filtered by file
// path prefix. An empty prefix returns everything, ordered by file then line.
func LoadAnnotations(db *sql.DB, pathPrefix string) ([]capsule.Annotation, error) {
	query := `
		SELECT capsule_id, type, file_path, line_start, line_end,
			slots_json, weights_json, meta_json
		FROM annotations
	`
	var args []any
	if pathPrefix != "" {
		query += ` WHERE file_path = ? OR file_path LIKE ?`
		args = append(args, pathPrefix, strings.TrimSuffix(pathPrefix, "/")+"/%")
	}
	query += ` ORDER BY file_path ASC, line_start ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var anns []capsule.Annotation
	for rows.Next() {
		var (
			a           capsule.Annotation
			typ         string
			slotsJSON   sql.NullString
			weightsJSON sql.NullString
			metaJSON    sql.NullString
		)
		if err := rows.Scan(
			&a.CapsuleID, &typ, &a.Location.FilePath,
			&a.Location.LineStart, &a.Location.LineEnd,
			&slotsJSON, &weightsJSON, &metaJSON,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		a.Type = capsule.AnnotationType(typ)
		if err := unmarshalMap(slotsJSON, &a.Slots); err != nil {
			return nil, err
		}
		if err := unmarshalMap(weightsJSON, &a.Weights); err != nil {
			return nil, err
		}
		if err := unmarshalMap(metaJSON, &a.Meta); err != nil {
			return nil, err
		}
		// NULL columns serialize as {} rather than null on the wire
		if a.Slots == nil {
			a.Slots = map[string]string{}
		}
		if a.Weights == nil {
			a.Weights = map[string]float64{}
		}
		if a.Meta == nil {
			a.Meta = map[string]any{}
		}
		anns = append(anns, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return anns, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanCapsule scans a single capsule row.
func scanCapsule(rows *sql.Rows) (*capsule.Capsule, error) {
	var (
		c           capsule.Capsule
		slotsJSON   string
		weightsJSON sql.NullString
		metaJSON    sql.NullString
		srcFile     sql.NullString
		srcStart    sql.NullInt64
		srcEnd      sql.NullInt64
	)

	err := rows.Scan(
		&c.ID, &slotsJSON, &weightsJSON, &metaJSON,
		&srcFile, &srcStart, &srcEnd,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if slotsJSON != "" {
		if err := json.Unmarshal([]byte(slotsJSON), &c.Slots); err != nil {
			return nil, err
		}
	}
	if c.Slots == nil {
		c.Slots = map[string]string{}
	}
	if err := unmarshalMap(weightsJSON, &c.Weights); err != nil {
		return nil, err
	}
	if err := unmarshalMap(metaJSON, &c.Meta); err != nil {
		return nil, err
	}

	if srcFile.Valid {
		c.Source = &capsule.SourceLocation{
			FilePath:  srcFile.String,
			LineStart: int(srcStart.Int64),
			LineEnd:   int(srcEnd.Int64),
		}
	}

	return &c, nil
}

// encodeMaps marshals the capsule's map columns. Empty weights and meta
// store as NULL.
func encodeMaps(c *capsule.Capsule) (slots string, weights, meta sql.NullString, err error) {
	slotsData, err := json.Marshal(c.Slots)
	if err != nil {
		return "", sql.NullString{}, sql.NullString{}, errors.NewInternal(err)
	}
	weights, err = marshalMap(c.Weights)
	if err != nil {
		return "", sql.NullString{}, sql.NullString{}, err
	}
	meta, err = marshalMap(c.Meta)
	if err != nil {
		return "", sql.NullString{}, sql.NullString{}, err
	}
	return string(slotsData), weights, meta, nil
}

func sourceColumns(loc *capsule.SourceLocation) (sql.NullString, sql.NullInt64, sql.NullInt64) {
	if loc == nil {
		return sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullString{String: loc.FilePath, Valid: true},
		sql.NullInt64{Int64: int64(loc.LineStart), Valid: true},
		sql.NullInt64{Int64: int64(loc.LineEnd), Valid: true}
}

// marshalMap encodes a map column, storing NULL for empty maps.
func marshalMap[M ~map[string]V, V any](m M) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, errors.NewInternal(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalMap decodes a nullable map column into dst.
func unmarshalMap[M ~map[string]V, V any](ns sql.NullString, dst *M) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
