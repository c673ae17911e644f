package background

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu        sync.Mutex
	ran       []string
	reprocess []string
	panicOn   string
	block     chan struct{}
}

func (f *fakePipeline) Run(ctx context.Context, documentID string) error {
	if f.block != nil {
		<-f.block
	}
	if documentID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, documentID)
	return nil
}

func (f *fakePipeline) Reprocess(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reprocess = append(f.reprocess, documentID)
	return nil
}

type fakeFailer struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeFailer) MarkFailed(ctx context.Context, documentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, documentID)
	return nil
}

func TestEnqueueRunsTaskToCompletion(t *testing.T) {
	p := &fakePipeline{}
	f := &fakeFailer{}
	r := New(context.Background(), p, f, 2, nil)

	require.NoError(t, r.Enqueue("doc-1", OperationIngest))
	require.NoError(t, r.Shutdown())

	assert.Equal(t, []string{"doc-1"}, p.ran)
	assert.Empty(t, f.failed)
}

func TestEnqueueRejectsDuplicateInFlightDocument(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{})}
	f := &fakeFailer{}
	r := New(context.Background(), p, f, 2, nil)

	require.NoError(t, r.Enqueue("doc-1", OperationIngest))
	err := r.Enqueue("doc-1", OperationIngest)
	require.Error(t, err)

	close(p.block)
	require.NoError(t, r.Shutdown())
}

func TestEnqueueRoutesReprocessOperation(t *testing.T) {
	p := &fakePipeline{}
	f := &fakeFailer{}
	r := New(context.Background(), p, f, 2, nil)

	require.NoError(t, r.Enqueue("doc-1", OperationReprocess))
	require.NoError(t, r.Shutdown())

	assert.Equal(t, []string{"doc-1"}, p.reprocess)
}

func TestPanicInPipelineMarksDocumentFailed(t *testing.T) {
	p := &fakePipeline{panicOn: "doc-bad"}
	f := &fakeFailer{}
	r := New(context.Background(), p, f, 2, nil)

	require.NoError(t, r.Enqueue("doc-bad", OperationIngest))
	require.NoError(t, r.Shutdown())

	assert.Equal(t, []string{"doc-bad"}, f.failed)
}

type fakeRestorer struct {
	mu       sync.Mutex
	restored []string
	err      error
}

func (f *fakeRestorer) RestoreDocument(ctx context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, documentID)
	return nil
}

func TestRestoreClearsDeletionThenEnqueuesReprocess(t *testing.T) {
	p := &fakePipeline{}
	f := &fakeFailer{}
	restorer := &fakeRestorer{}
	r := New(context.Background(), p, f, 2, nil)

	require.NoError(t, r.Restore(context.Background(), restorer, "doc-1"))
	require.NoError(t, r.Shutdown())

	assert.Equal(t, []string{"doc-1"}, restorer.restored)
	assert.Equal(t, []string{"doc-1"}, p.reprocess)
}

func TestRestoreDoesNotEnqueueWhenStoreRestoreFails(t *testing.T) {
	p := &fakePipeline{}
	f := &fakeFailer{}
	restorer := &fakeRestorer{err: assertErr{}}
	r := New(context.Background(), p, f, 2, nil)

	err := r.Restore(context.Background(), restorer, "doc-1")
	require.Error(t, err)
	require.NoError(t, r.Shutdown())
	assert.Empty(t, p.reprocess)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestShutdownMarksQueuedButUnstartedTaskFailed(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{})}
	f := &fakeFailer{}
	r := New(context.Background(), p, f, 1, nil) // single worker slot

	// doc-running takes the only slot and blocks; doc-waiting contends for
	// it and, once shutdown fires, should observe cancellation instead.
	require.NoError(t, r.Enqueue("doc-running", OperationIngest))
	require.NoError(t, r.Enqueue("doc-waiting", OperationIngest))
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = r.Shutdown()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(p.block)
	<-done

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Contains(t, f.failed, "doc-waiting")
}
