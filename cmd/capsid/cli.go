package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/capsid-dev/capsid/internal/capsule"
	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
	"github.com/capsid-dev/capsid/internal/mcp"
	"github.com/capsid-dev/capsid/internal/scanner"
	"github.com/capsid-dev/capsid/internal/store"
	"github.com/capsid-dev/capsid/internal/worker"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(st *store.Store, sc *scanner.Scanner, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "capsid",
		Usage:   "Annotation-indexed capsule store",
		Version: Version,
		Commands: []*cli.Command{
			indexCmd(sc),
			listCmd(st),
			queryCmd(st),
			annotationsCmd(st),
			createCmd(st),
			upsertCmd(st),
			deleteCmd(st),
			clearCmd(st),
			exportCmd(st, cfg),
			importCmd(st, cfg),
			serveCmd(st, sc, cfg),
			mcpCmd(st, sc, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// indexCmd creates the index command.
func indexCmd(sc *scanner.Scanner) *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Scan a workspace directory for annotations and upsert capsules",
		ArgsUsage: "[path]",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				path = "."
			}
			output, err := sc.Index(c.Context, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List capsules in insertion order",
		Action: func(c *cli.Context) error {
			capsules := st.List()
			if capsules == nil {
				capsules = []*capsule.Capsule{}
			}
			return outputJSON(map[string]any{
				"capsules": capsules,
				"count":    len(capsules),
			})
		},
	}
}

// queryCmd creates the query command.
func queryCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Query capsules by slot criteria (best match first)",
		ArgsUsage: "SLOT=value [SLOT=value ...]",
		Action: func(c *cli.Context) error {
			criteria, err := parsePairs(c.Args().Slice())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			results, err := st.Query(criteria)
			if err != nil {
				return outputError(err)
			}
			if results == nil {
				results = []store.QueryResult{}
			}
			return outputJSON(map[string]any{
				"matches": results,
				"count":   len(results),
			})
		},
	}
}

// annotationsCmd creates the annotations command.
func annotationsCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "annotations",
		Usage: "List annotations recorded by previous indexing runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path-prefix", Aliases: []string{"p"}, Usage: "Restrict to files under this workspace-relative path"},
		},
		Action: func(c *cli.Context) error {
			anns, err := st.Annotations(c.String("path-prefix"))
			if err != nil {
				return outputError(err)
			}
			if anns == nil {
				anns = []capsule.Annotation{}
			}
			return outputJSON(map[string]any{
				"annotations": anns,
				"count":       len(anns),
			})
		},
	}
}

// createCmd creates the create command.
func createCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new capsule from slot bindings",
		ArgsUsage: "SLOT=value [SLOT=value ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Capsule id (optional; generated when omitted)"},
			&cli.StringSliceFlag{Name: "weight", Aliases: []string{"w"}, Usage: "Slot weight as SLOT=float (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			cs, err := capsuleFromArgs(c)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			created, err := st.Create(cs)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(created)
		},
	}
}

// upsertCmd creates the upsert command.
func upsertCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "upsert",
		Usage:     "Create or update a capsule by id",
		ArgsUsage: "SLOT=value [SLOT=value ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true, Usage: "Capsule id"},
			&cli.StringSliceFlag{Name: "weight", Aliases: []string{"w"}, Usage: "Slot weight as SLOT=float (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			cs, err := capsuleFromArgs(c)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			stored, created, err := st.Upsert(cs)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"capsule": stored,
				"created": created,
			})
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a capsule by id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("id is required"))
			}
			if err := st.Delete(id); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"deleted": id})
		},
	}
}

// clearCmd creates the clear command.
func clearCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every capsule and recorded annotation",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "Confirm removal"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("pass --yes to confirm clearing the store"))
			}
			removed, err := st.Clear()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"removed": removed})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export capsules to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.capsid/exports/capsules-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := store.Export(c.Context, st, cfg, store.ExportInput{
				Path: c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import capsules from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|rename"},
		},
		Action: func(c *cli.Context) error {
			output, err := store.Import(st, cfg, store.ImportInput{
				Path: c.String("path"),
				Mode: store.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// serveCmd runs the stdio worker explicitly (same as piped no-arg mode).
func serveCmd(st *store.Store, sc *scanner.Scanner, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the newline-delimited JSON worker on stdin/stdout",
		Action: func(c *cli.Context) error {
			return runWorker(st, sc, cfg)
		},
	}
}

// mcpCmd runs the MCP stdio server.
func mcpCmd(st *store.Store, sc *scanner.Scanner, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
				fmt.Fprintf(os.Stderr, "warning: unknown disabled tools: %s\n", strings.Join(unknown, ", "))
			}
			return mcp.Run(st, sc, cfg, Version)
		},
	}
}

// runWorker runs the stdio worker until stdin closes or a termination
// signal arrives. The store is persisted on the way out.
func runWorker(st *store.Store, sc *scanner.Scanner, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "capsid: ", log.LstdFlags)
	w := worker.New(os.Stdin, os.Stdout, logger, st, sc, cfg)
	return w.Run(ctx)
}

// Helper functions

// capsuleFromArgs builds a capsule from --id, SLOT=value args, and --weight flags.
func capsuleFromArgs(c *cli.Context) (*capsule.Capsule, error) {
	slots, err := parsePairs(c.Args().Slice())
	if err != nil {
		return nil, err
	}
	weights, err := parseWeights(c.StringSlice("weight"))
	if err != nil {
		return nil, err
	}
	return &capsule.Capsule{
		ID:      c.String("id"),
		Slots:   slots,
		Weights: weights,
	}, nil
}

// parsePairs parses KEY=value arguments into a map.
func parsePairs(args []string) (map[string]string, error) {
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected SLOT=value, got %q", arg)
		}
		pairs[key] = value
	}
	return pairs, nil
}

// parseWeights parses KEY=float arguments into a weight map.
func parseWeights(args []string) (map[string]float64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	weights := make(map[string]float64, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected SLOT=float, got %q", arg)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %q", key, value)
		}
		weights[key] = f
	}
	return weights, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := err.(*errors.CapsidError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
