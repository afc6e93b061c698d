package worker

import (
	"context"
	"encoding/json"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
	"github.com/capsid-dev/capsid/internal/scanner"
	"github.com/capsid-dev/capsid/internal/store"
)

// handlerFunc executes one worker method.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// methodRegistry maps method names to handler factories.
var methodRegistry = map[string]func(h *Handlers) handlerFunc{
	"list_capsules":           func(h *Handlers) handlerFunc { return h.ListCapsules },
	"create_capsule":          func(h *Handlers) handlerFunc { return h.CreateCapsule },
	"upsert_capsule":          func(h *Handlers) handlerFunc { return h.UpsertCapsule },
	"delete_capsule":          func(h *Handlers) handlerFunc { return h.DeleteCapsule },
	"query_capsules":          func(h *Handlers) handlerFunc { return h.QueryCapsules },
	"index_workspace":         func(h *Handlers) handlerFunc { return h.IndexWorkspace },
	"get_indexed_annotations": func(h *Handlers) handlerFunc { return h.GetIndexedAnnotations },
}

// MethodNames returns all registered worker method names.
func MethodNames() []string {
	names := make([]string, 0, len(methodRegistry))
	for name := range methodRegistry {
		names = append(names, name)
	}
	return names
}

// Handlers holds dependencies for worker method handlers.
type Handlers struct {
	store   *store.Store
	scanner *scanner.Scanner
	cfg     *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, sc *scanner.Scanner, cfg *config.Config) *Handlers {
	return &Handlers{store: st, scanner: sc, cfg: cfg}
}

// Request types for each method

// CreateCapsuleParams are the arguments for create_capsule and
// upsert_capsule.
type CreateCapsuleParams struct {
	ID       string             `json:"id,omitempty"`
	Bindings map[string]string  `json:"bindings"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	Meta     map[string]any     `json:"meta,omitempty"`
}

// DeleteCapsuleParams are the arguments for delete_capsule.
type DeleteCapsuleParams struct {
	ID string `json:"id"`
}

// QueryCapsulesParams are the arguments for query_capsules.
type QueryCapsulesParams struct {
	Query map[string]string `json:"query"`
}

// IndexWorkspaceParams are the arguments for index_workspace.
type IndexWorkspaceParams struct {
	WorkspacePath string `json:"workspace_path"`
}

// GetIndexedAnnotationsParams are the arguments for
// get_indexed_annotations.
type GetIndexedAnnotationsParams struct {
	PathPrefix string `json:"path_prefix,omitempty"`
}

// Result types

// CreateCapsuleResult is the create_capsule/upsert_capsule response.
type CreateCapsuleResult struct {
	Success bool             `json:"success"`
	Created bool             `json:"created"`
	Capsule *capsule.Capsule `json:"capsule"`
}

// DeleteCapsuleResult is the delete_capsule response.
type DeleteCapsuleResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// QueryMatch is one query_capsules result entry: the capsule fields
// with the match score alongside.
type QueryMatch struct {
	*capsule.Capsule
	MatchScore float64 `json:"match_score"`
}

// Handler implementations

// ListCapsules handles list_capsules.
func (h *Handlers) ListCapsules(ctx context.Context, params json.RawMessage) (any, error) {
	if _, err := decodeParams[struct{}](params); err != nil {
		return nil, err
	}
	capsules := h.store.List()
	if capsules == nil {
		capsules = []*capsule.Capsule{}
	}
	return capsules, nil
}

// CreateCapsule handles create_capsule.
func (h *Handlers) CreateCapsule(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[CreateCapsuleParams](params)
	if err != nil {
		return nil, err
	}

	created, err := h.store.Create(&capsule.Capsule{
		ID:      input.ID,
		Slots:   input.Bindings,
		Weights: input.Weights,
		Meta:    input.Meta,
	})
	if err != nil {
		return nil, err
	}
	return CreateCapsuleResult{Success: true, Created: true, Capsule: created}, nil
}

// UpsertCapsule handles upsert_capsule.
func (h *Handlers) UpsertCapsule(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[CreateCapsuleParams](params)
	if err != nil {
		return nil, err
	}

	stored, isNew, err := h.store.Upsert(&capsule.Capsule{
		ID:      input.ID,
		Slots:   input.Bindings,
		Weights: input.Weights,
		Meta:    input.Meta,
	})
	if err != nil {
		return nil, err
	}
	return CreateCapsuleResult{Success: true, Created: isNew, Capsule: stored}, nil
}

// DeleteCapsule handles delete_capsule.
func (h *Handlers) DeleteCapsule(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[DeleteCapsuleParams](params)
	if err != nil {
		return nil, err
	}
	if err := h.store.Delete(input.ID); err != nil {
		return nil, err
	}
	return DeleteCapsuleResult{Success: true, ID: input.ID}, nil
}

// QueryCapsules handles query_capsules.
func (h *Handlers) QueryCapsules(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[QueryCapsulesParams](params)
	if err != nil {
		return nil, err
	}

	results, err := h.store.Query(input.Query)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, QueryMatch{Capsule: r.Capsule, MatchScore: r.MatchScore})
	}
	return matches, nil
}

// IndexWorkspace handles index_workspace.
func (h *Handlers) IndexWorkspace(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[IndexWorkspaceParams](params)
	if err != nil {
		return nil, err
	}
	if input.WorkspacePath == "" {
		return nil, errors.NewInvalidRequest("workspace_path is required")
	}
	return h.scanner.Index(ctx, input.WorkspacePath)
}

// GetIndexedAnnotations handles get_indexed_annotations.
func (h *Handlers) GetIndexedAnnotations(ctx context.Context, params json.RawMessage) (any, error) {
	input, err := decodeParams[GetIndexedAnnotationsParams](params)
	if err != nil {
		return nil, err
	}

	anns, err := h.store.Annotations(input.PathPrefix)
	if err != nil {
		return nil, err
	}
	if anns == nil {
		anns = []capsule.Annotation{}
	}
	return anns, nil
}
