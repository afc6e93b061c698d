package capsule

// AnnotationType identifies which grammar produced an annotation.
type AnnotationType string

const (
	TypeInline    AnnotationType = "inline"    // comment-block grammar
	TypeDocstring AnnotationType = "docstring" // delimited YAML block inside a docstring
	TypeDecorator AnnotationType = "decorator" // call-expression keyword arguments
)

// SourceLocation records where in a file an annotation was found.
type SourceLocation struct {
	// FilePath is the path of the scanned file, as given to the scanner
	FilePath string `json:"file_path"`

	// LineStart is the first line of the annotation block (1-based)
	LineStart int `json:"line_start"`

	// LineEnd is the last line of the block, including the attached
	// definition line for inline and decorator annotations
	LineEnd int `json:"line_end"`
}

// Annotation is a raw extracted annotation occurrence before normalization.
// Annotations are transient: the scanner consumes them into capsule upserts
// and records their metadata for get_indexed_annotations.
type Annotation struct {
	// CapsuleID may be empty; empty ids are counted and warned about but
	// never become capsules
	CapsuleID string `json:"capsule_id"`

	// Type is the grammar that matched (inline, docstring, decorator)
	Type AnnotationType `json:"annotation_type"`

	// Location is the file and line range of the occurrence
	Location SourceLocation `json:"location"`

	// Slots maps role names to values (e.g. "WHAT", "WHERE")
	Slots map[string]string `json:"slots"`

	// Weights maps role names to importance values
	Weights map[string]float64 `json:"weights"`

	// Meta holds arbitrary scalar metadata (string, bool, int, float)
	Meta map[string]any `json:"meta"`
}

// Capsule is a persisted memory record derived from one or more annotations
// or created directly through the API.
type Capsule struct {
	// ID uniquely identifies the capsule within the store
	ID string `json:"id"`

	// Slots maps role names to values
	Slots map[string]string `json:"bindings"`

	// Weights maps role names to importance values; a missing entry
	// is treated as 1.0 when scoring queries
	Weights map[string]float64 `json:"weights,omitempty"`

	// Meta holds arbitrary scalar metadata
	Meta map[string]any `json:"meta,omitempty"`

	// Source is the originating file and line range; nil for capsules
	// created directly rather than by scanning
	Source *SourceLocation `json:"source_location,omitempty"`

	// CreatedAt is the Unix timestamp when the capsule was first stored.
	// Idempotent upserts never change it.
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last content change
	UpdatedAt int64 `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate results without
// touching stored state.
func (c *Capsule) Clone() *Capsule {
	out := &Capsule{
		ID:        c.ID,
		Slots:     cloneStringMap(c.Slots),
		Weights:   cloneFloatMap(c.Weights),
		Meta:      cloneAnyMap(c.Meta),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Source != nil {
		loc := *c.Source
		out.Source = &loc
	}
	return out
}

// ContentEquals reports whether two capsules carry the same slots, weights,
// meta, and source location. Timestamps are ignored; the store uses this to
// detect no-op upserts.
func (c *Capsule) ContentEquals(other *Capsule) bool {
	if c.ID != other.ID {
		return false
	}
	if len(c.Slots) != len(other.Slots) {
		return false
	}
	for k, v := range c.Slots {
		if ov, ok := other.Slots[k]; !ok || ov != v {
			return false
		}
	}
	if len(c.Weights) != len(other.Weights) {
		return false
	}
	for k, v := range c.Weights {
		if ov, ok := other.Weights[k]; !ok || ov != v {
			return false
		}
	}
	if len(c.Meta) != len(other.Meta) {
		return false
	}
	for k, v := range c.Meta {
		if ov, ok := other.Meta[k]; !ok || ov != v {
			return false
		}
	}
	switch {
	case c.Source == nil && other.Source == nil:
	case c.Source == nil || other.Source == nil:
		return false
	case *c.Source != *other.Source:
		return false
	}
	return true
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
