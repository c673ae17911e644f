// Package background runs ingestion and reprocess operations detached
// from the request that triggered them, on a bounded worker pool, with a
// guaranteed terminal status even across a panic (§4.11). The
// bounded-concurrency fan-out is grounded on the errgroup usage pattern
// seen across the example pack's concurrent search engines (e.g.
// Aman-CERP-amanmcp's internal/search/engine.go), adapted here from a
// single parallel fan-out to a long-lived task queue.
package background

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/logging"
)

// Operation names what a task should do once claimed.
type Operation string

const (
	OperationIngest    Operation = "ingest"
	OperationReprocess Operation = "reprocess"
)

// Pipeline is the narrow contract the runner needs from ingestion.Pipeline,
// kept as an interface so the runner can be tested without real stores.
type Pipeline interface {
	Run(ctx context.Context, documentID string) error
	Reprocess(ctx context.Context, documentID string) error
}

// FailTerminal marks a document FAILED; called when the runner must
// guarantee a terminal status without running the full pipeline (e.g. on
// shutdown or panic recovery).
type FailTerminal interface {
	MarkFailed(ctx context.Context, documentID, reason string) error
}

// DocumentRestorer clears a soft-deleted document's deleted_at marker.
type DocumentRestorer interface {
	RestoreDocument(ctx context.Context, documentID string) error
}

// task is one queued unit of work. taskID is a short correlation id
// carried through its log lines, letting a shutdown or panic in one task
// be traced back to the Enqueue call that created it.
type task struct {
	taskID     string
	documentID string
	op         Operation
}

// Runner is a bounded worker pool over ingestion/reprocess tasks. At most
// one task per document id runs at a time; enqueuing a document already
// in flight is rejected with Conflict (§4.6, §4.11).
type Runner struct {
	pipeline Pipeline
	failer   FailTerminal
	log      logging.Logger

	sem chan struct{}

	mu      sync.Mutex
	pending map[string]bool

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// New builds a Runner with the given worker pool size (§4.6's "bounded by
// the runner's worker pool"). parent is the process-lifetime context;
// Shutdown cancels it to signal in-flight tasks.
func New(parent context.Context, pipeline Pipeline, failer FailTerminal, poolSize int, log logging.Logger) *Runner {
	if poolSize <= 0 {
		poolSize = 4
	}
	if log == nil {
		log = logging.Global
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Runner{
		pipeline: pipeline,
		failer:   failer,
		log:      log,
		sem:      make(chan struct{}, poolSize),
		pending:  make(map[string]bool),
		group:    g,
		gctx:     gctx,
		cancel:   cancel,
	}
}

// Enqueue submits a task for asynchronous execution and returns without
// waiting for a pool slot (the task's goroutine waits for one); it
// rejects a document that already has a task in flight.
func (r *Runner) Enqueue(documentID string, op Operation) error {
	if !r.claim(documentID) {
		return errorsx.New(errorsx.Conflict, "background: document already has a task in flight")
	}
	taskID := uuid.New().String()[:8]

	r.group.Go(func() error {
		defer r.release(documentID)

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-r.gctx.Done():
			r.terminalOnShutdown(taskID, documentID)
			return nil
		}

		r.runTask(task{taskID: taskID, documentID: documentID, op: op})
		return nil
	})
	return nil
}

// Restore clears documentID's soft-delete marker via restorer and
// re-queues it for reprocessing, the restore-then-reindex lifecycle
// grounded on the original's restore_knowledge_base endpoint (§3): it
// resets every restored document to PENDING and schedules
// _reprocess_document_background for each restored document.
func (r *Runner) Restore(ctx context.Context, restorer DocumentRestorer, documentID string) error {
	if err := restorer.RestoreDocument(ctx, documentID); err != nil {
		return err
	}
	return r.Enqueue(documentID, OperationReprocess)
}

func (r *Runner) claim(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[documentID] {
		return false
	}
	r.pending[documentID] = true
	return true
}

func (r *Runner) release(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, documentID)
}

// runTask executes one task, recovering from any panic in the pipeline so
// a terminal FAILED status is always written (§4.11's panic-safety
// invariant) instead of leaving the document stuck in PROCESSING.
func (r *Runner) runTask(t task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("ingestion task panicked", "task_id", t.taskID, "document_id", t.documentID, "panic", rec)
			r.markFailed(t.documentID, "internal error during ingestion")
		}
	}()

	var err error
	switch t.op {
	case OperationReprocess:
		err = r.pipeline.Reprocess(r.gctx, t.documentID)
	default:
		err = r.pipeline.Run(r.gctx, t.documentID)
	}
	if err != nil {
		r.log.Warn("ingestion task failed", "task_id", t.taskID, "document_id", t.documentID, "op", t.op, "error", err)
	}
}

func (r *Runner) terminalOnShutdown(taskID, documentID string) {
	r.log.Warn("shutdown signaled before task started, marking failed", "task_id", taskID, "document_id", documentID)
	r.markFailed(documentID, "runner shut down before task started")
}

func (r *Runner) markFailed(documentID, reason string) {
	if r.failer == nil {
		return
	}
	// Use context.Background since r.gctx may already be canceled by the
	// time a panic or shutdown path needs to persist the failure.
	if err := r.failer.MarkFailed(context.Background(), documentID, reason); err != nil {
		r.log.Error("failed to persist terminal failure status", "document_id", documentID, "error", err)
	}
}

// Shutdown cancels the runner's context (in-flight tasks observe this via
// their context and should wind down) and waits for all queued goroutines
// to return.
func (r *Runner) Shutdown() error {
	r.cancel()
	return r.group.Wait()
}
