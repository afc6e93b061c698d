package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/capsid-dev/capsid/internal/config"
	"github.com/capsid-dev/capsid/internal/errors"
	"github.com/capsid-dev/capsid/internal/scanner"
	"github.com/capsid-dev/capsid/internal/store"
)

// State is the worker lifecycle state.
type State string

const (
	StateStarting     State = "STARTING"
	StateReady        State = "READY"
	StateShuttingDown State = "SHUTTING_DOWN"
)

// maxLineBytes bounds a single request line. Oversized lines are a
// protocol violation, not an OOM.
const maxLineBytes = 4 << 20

// request is one NDJSON request line. The id is kept raw so string and
// numeric ids echo back byte for byte.
type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// successResponse and errorResponse are the two NDJSON response line
// shapes. Kept separate so an empty result still serializes a "result"
// key instead of being dropped by omitempty.
type successResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

type errorResponse struct {
	ID    json.RawMessage `json:"id"`
	Error string          `json:"error"`
}

// Worker serves the stdio request/response protocol: one JSON request
// per input line, one JSON response per output line, processed strictly
// in order.
type Worker struct {
	in       io.Reader
	out      io.Writer
	logger   *log.Logger
	handlers *Handlers
	store    *store.Store
	state    State
}

// New builds a Worker over the given streams. logger receives protocol
// diagnostics (malformed lines, lifecycle transitions) and must not
// share the out stream.
func New(in io.Reader, out io.Writer, logger *log.Logger, st *store.Store, sc *scanner.Scanner, cfg *config.Config) *Worker {
	return &Worker{
		in:       in,
		out:      out,
		logger:   logger,
		handlers: NewHandlers(st, sc, cfg),
		store:    st,
		state:    StateStarting,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// Run serves requests until the input stream ends or ctx is cancelled,
// then persists the store. Handler failures become error responses; only
// an unreadable input stream or a failed final persist is fatal.
func (w *Worker) Run(ctx context.Context) error {
	w.state = StateReady
	w.logger.Printf("worker ready")

	sc := bufio.NewScanner(w.in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	// Cancellation is observed between lines: a signal that arrives while
	// Scan blocks on an idle pipe takes effect at the next input line or
	// at EOF. Mutations write through to SQLite as they happen, so the
	// delayed shutdown only postpones the final WAL checkpoint.
	var readErr error
loop:
	for sc.Scan() {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			// No trustworthy id to echo; log and skip
			w.logger.Printf("skipping malformed request line: %v", err)
			continue
		}
		if len(req.ID) == 0 || string(req.ID) == "null" {
			w.logger.Printf("skipping request without id (method %q)", req.Method)
			continue
		}

		w.respond(req.ID, w.handle(ctx, req))
	}
	if err := sc.Err(); err != nil {
		readErr = fmt.Errorf("input stream failed: %w", err)
	}

	w.state = StateShuttingDown
	w.logger.Printf("worker shutting down")
	if err := w.store.Persist(); err != nil {
		return fmt.Errorf("persist on shutdown failed: %w", err)
	}
	return readErr
}

// handle dispatches one request, turning any failure into an error
// response so the loop never dies on a bad request.
func (w *Worker) handle(ctx context.Context, req request) any {
	if req.Method == "" {
		return errorResponse{ID: req.ID, Error: errors.NewProtocol("method is required").Error()}
	}

	entry, ok := methodRegistry[req.Method]
	if !ok {
		return errorResponse{ID: req.ID, Error: errors.NewProtocol(fmt.Sprintf("unknown method: %s", req.Method)).Error()}
	}

	result, err := entry(w.handlers)(ctx, req.Params)
	if err != nil {
		return errorResponse{ID: req.ID, Error: err.Error()}
	}
	return successResponse{ID: req.ID, Result: result}
}

// respond writes one response line. An unencodable result degrades to an
// internal error response rather than corrupting the stream.
func (w *Worker) respond(id json.RawMessage, resp any) {
	data, err := json.Marshal(resp)
	if err != nil {
		w.logger.Printf("failed to encode response: %v", err)
		data, _ = json.Marshal(errorResponse{ID: id, Error: errors.NewInternal(err).Error()})
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		w.logger.Printf("failed to write response: %v", err)
	}
}
