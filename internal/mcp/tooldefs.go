package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List all capsules in insertion order."),
)

var createToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Create a new capsule. Omit id to have one generated; an existing id is an error."),
	mcp.WithString("id",
		mcp.Description("Capsule id. Optional; a ULID is generated when omitted."),
	),
	mcp.WithObject("bindings",
		mcp.Description("Slot bindings: role name to value, e.g. {\"WHAT\": \"login\"}."),
	),
	mcp.WithObject("weights",
		mcp.Description("Per-slot importance weights. Missing slots default to 1.0 when scoring."),
	),
	mcp.WithObject("meta",
		mcp.Description("Arbitrary scalar metadata."),
	),
)

var upsertToolDef = mcp.NewTool("capsule_upsert",
	mcp.WithDescription("Create or update a capsule by id. Identical content is a no-op."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Capsule id."),
	),
	mcp.WithObject("bindings",
		mcp.Description("Slot bindings: role name to value."),
	),
	mcp.WithObject("weights",
		mcp.Description("Per-slot importance weights."),
	),
	mcp.WithObject("meta",
		mcp.Description("Arbitrary scalar metadata."),
	),
)

var deleteToolDef = mcp.NewTool("capsule_delete",
	mcp.WithDescription("Delete a capsule by id."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Capsule id."),
	),
)

var queryToolDef = mcp.NewTool("capsule_query",
	mcp.WithDescription("Query capsules by slot criteria. Results carry a match_score and come back best first."),
	mcp.WithObject("query",
		mcp.Required(),
		mcp.Description("Criteria: slot name to required value, e.g. {\"WHAT\": \"login\"}."),
	),
)

var indexToolDef = mcp.NewTool("capsule_index",
	mcp.WithDescription("Recursively scan a workspace directory for annotations and upsert the capsules they describe."),
	mcp.WithString("workspace_path",
		mcp.Required(),
		mcp.Description("Directory to scan."),
	),
)

var annotationsToolDef = mcp.NewTool("capsule_annotations",
	mcp.WithDescription("List annotations recorded by previous indexing runs."),
	mcp.WithString("path_prefix",
		mcp.Description("Restrict to files under this workspace-relative path."),
	),
)

var exportToolDef = mcp.NewTool("capsule_export",
	mcp.WithDescription("Export all capsules to a JSONL file under ~/.capsid/exports (or a configured allowed path)."),
	mcp.WithString("path",
		mcp.Description("Destination .jsonl path. Optional; defaults to a timestamped file in the exports directory."),
	),
)

var importToolDef = mcp.NewTool("capsule_import",
	mcp.WithDescription("Import capsules from a JSONL export file."),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("Source .jsonl path."),
	),
	mcp.WithString("mode",
		mcp.Description("Collision behavior: error (default), replace, or rename."),
	),
)

var clearToolDef = mcp.NewTool("capsule_clear",
	mcp.WithDescription("Remove every capsule and recorded annotation."),
	mcp.WithBoolean("confirm",
		mcp.Required(),
		mcp.Description("Must be true; refuses to clear otherwise."),
	),
)
