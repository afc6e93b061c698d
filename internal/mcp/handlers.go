package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
	"github.com/capsid-dev/capsid/internal/scanner"
	"github.com/capsid-dev/capsid/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store   *store.Store
	scanner *scanner.Scanner
	cfg     *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, sc *scanner.Scanner, cfg *config.Config) *Handlers {
	return &Handlers{store: st, scanner: sc, cfg: cfg}
}

// Request types for each tool

// CapsuleRequest represents the arguments for create and upsert.
type CapsuleRequest struct {
	ID       string             `json:"id,omitempty"`
	Bindings map[string]string  `json:"bindings,omitempty"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	Meta     map[string]any     `json:"meta,omitempty"`
}

// DeleteRequest represents the arguments for delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// QueryRequest represents the arguments for query.
type QueryRequest struct {
	Query map[string]string `json:"query"`
}

// IndexRequest represents the arguments for index.
type IndexRequest struct {
	WorkspacePath string `json:"workspace_path"`
}

// AnnotationsRequest represents the arguments for annotations.
type AnnotationsRequest struct {
	PathPrefix string `json:"path_prefix,omitempty"`
}

// ExportRequest represents the arguments for export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// ClearRequest represents the arguments for clear.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// Handler implementations

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capsules := h.store.List()
	if capsules == nil {
		capsules = []*capsule.Capsule{}
	}
	return successResult(map[string]any{
		"capsules": capsules,
		"count":    len(capsules),
	})
}

// HandleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapsuleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	created, err := h.store.Create(&capsule.Capsule{
		ID:      input.ID,
		Slots:   input.Bindings,
		Weights: input.Weights,
		Meta:    input.Meta,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(created)
}

// HandleUpsert handles the capsule_upsert tool call.
func (h *Handlers) HandleUpsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapsuleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	stored, created, err := h.store.Upsert(&capsule.Capsule{
		ID:      input.ID,
		Slots:   input.Bindings,
		Weights: input.Weights,
		Meta:    input.Meta,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"capsule": stored,
		"created": created,
	})
}

// HandleDelete handles the capsule_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.Delete(input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": input.ID})
}

// HandleQuery handles the capsule_query tool call.
func (h *Handlers) HandleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[QueryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	results, err := h.store.Query(input.Query)
	if err != nil {
		return errorResult(err), nil
	}
	if results == nil {
		results = []store.QueryResult{}
	}
	return successResult(map[string]any{
		"matches": results,
		"count":   len(results),
	})
}

// HandleIndex handles the capsule_index tool call.
func (h *Handlers) HandleIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IndexRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.WorkspacePath == "" {
		return errorResult(errors.NewInvalidRequest("workspace_path is required")), nil
	}

	result, err := h.scanner.Index(ctx, input.WorkspacePath)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAnnotations handles the capsule_annotations tool call.
func (h *Handlers) HandleAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnnotationsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	anns, err := h.store.Annotations(input.PathPrefix)
	if err != nil {
		return errorResult(err), nil
	}
	if anns == nil {
		anns = []capsule.Annotation{}
	}
	return successResult(map[string]any{
		"annotations": anns,
		"count":       len(anns),
	})
}

// HandleExport handles the capsule_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := store.Export(ctx, h.store, h.cfg, store.ExportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the capsule_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := store.Import(h.store, h.cfg, store.ImportInput{
		Path: input.Path,
		Mode: store.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClear handles the capsule_clear tool call.
func (h *Handlers) HandleClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewInvalidRequest("confirm must be true to clear the store")), nil
	}

	removed, err := h.store.Clear()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"removed": removed})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := err.(*errors.CapsidError); ok {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
