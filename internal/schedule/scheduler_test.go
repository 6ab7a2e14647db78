package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// Mock Implementations
// ============================================================================

// mockIngester implements Ingester with controllable failures and
// blocking for concurrency tests.
type mockIngester struct {
	mu       sync.Mutex
	calls    int
	failures int // leading calls that fail
	err      error
	order    []string // source labels in execution start order
	started  chan string
	release  chan struct{} // if non-nil, calls block until closed
}

func (m *mockIngester) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.order = append(m.order, req.Source)
	started := m.started
	release := m.release
	m.mu.Unlock()

	if started != nil {
		started <- req.Source
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ingest.Result{}, ctx.Err()
		}
	}

	if call <= m.failures {
		err := m.err
		if err == nil {
			err = errors.New("transient failure")
		}
		return ingest.Result{}, err
	}
	return ingest.Result{Collection: "c", Chunks: 3}, nil
}

func (m *mockIngester) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockIngester) startOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// mockRegistry implements Registry for testing.
type mockRegistry struct {
	mu       sync.Mutex
	markErr  error
	marked   []string
	finished []string
}

func (m *mockRegistry) MarkDeleting(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = append(m.marked, name)
	return nil
}

func (m *mockRegistry) FinishDelete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, name)
}

// mockStore implements Store for testing.
type mockStore struct {
	mu      sync.Mutex
	err     error
	deleted []string
}

func (m *mockStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, name)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func newTestScheduler(t *testing.T, ing *mockIngester, reg *mockRegistry, store *mockStore, cfg Config) *Scheduler {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	s := New(ing, reg, store, collection.NewNaming("", ""), cfg, log.NewNop())
	t.Cleanup(s.Close)
	return s
}

// waitTerminal polls until the job leaves Queued/Running or the
// deadline expires.
func waitTerminal(t *testing.T, s *Scheduler, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Status(jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.State == StateSucceeded || job.State == StateFailed {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return Job{}
}

// ============================================================================
// Tests
// ============================================================================

func TestSubmit_RunsToSuccess(t *testing.T) {
	ing := &mockIngester{}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 2})

	id, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitTerminal(t, s, id)
	if job.State != StateSucceeded {
		t.Fatalf("state = %v, error = %q", job.State, job.Error)
	}
	if job.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", job.Chunks)
	}
	if job.Collection != "session-scoped:s1" {
		t.Errorf("collection = %q", job.Collection)
	}
	if job.FinishedAt.IsZero() {
		t.Error("missing FinishedAt")
	}
}

func TestSubmit_SameSessionRunsInOrder(t *testing.T) {
	ing := &mockIngester{}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 4})

	var ids []string
	for _, src := range []string{"a", "b", "c", "d", "e"} {
		id, err := s.Submit(ingest.Request{SessionID: "s1", Source: src, Text: "note"})
		if err != nil {
			t.Fatalf("Submit(%s): %v", src, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if job := waitTerminal(t, s, id); job.State != StateSucceeded {
			t.Fatalf("job %s: %v (%s)", id, job.State, job.Error)
		}
	}

	want := []string{"a", "b", "c", "d", "e"}
	got := ing.startOrder()
	if len(got) != len(want) {
		t.Fatalf("executed %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order %v, want %v", got, want)
		}
	}
}

func TestSubmit_DifferentSessionsRunInParallel(t *testing.T) {
	ing := &mockIngester{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 4})

	id1, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id2, err := s.Submit(ingest.Request{SessionID: "s2", Source: "b", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Both jobs must start without either finishing.
	for i := 0; i < 2; i++ {
		select {
		case <-ing.started:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs for distinct sessions did not run concurrently")
		}
	}
	close(ing.release)

	for _, id := range []string{id1, id2} {
		if job := waitTerminal(t, s, id); job.State != StateSucceeded {
			t.Errorf("job %s: %v (%s)", id, job.State, job.Error)
		}
	}
}

func TestSubmit_TransientFailureRetried(t *testing.T) {
	ing := &mockIngester{failures: 2}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 1, JobRetries: 2})

	id, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitTerminal(t, s, id)
	if job.State != StateSucceeded {
		t.Fatalf("state = %v after retries, error = %q", job.State, job.Error)
	}
	if ing.callCount() != 3 {
		t.Errorf("ingest calls = %d, want 3", ing.callCount())
	}
}

func TestSubmit_ExhaustedRetriesFail(t *testing.T) {
	ing := &mockIngester{failures: 10}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 1, JobRetries: 1})

	id, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitTerminal(t, s, id)
	if job.State != StateFailed {
		t.Fatalf("state = %v, want failed", job.State)
	}
	if job.Error == "" {
		t.Error("missing failure reason")
	}
	if ing.callCount() != 2 {
		t.Errorf("ingest calls = %d, want 2 (initial + 1 retry)", ing.callCount())
	}
}

func TestSubmit_NonRetryableFailsImmediately(t *testing.T) {
	ing := &mockIngester{failures: 10, err: ingest.ErrNoSource}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 1, JobRetries: 3})

	id, err := s.Submit(ingest.Request{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitTerminal(t, s, id)
	if job.State != StateFailed {
		t.Fatalf("state = %v, want failed", job.State)
	}
	if ing.callCount() != 1 {
		t.Errorf("ingest calls = %d, want 1 for a non-retryable error", ing.callCount())
	}
}

func TestSubmit_NonRetryableSkipsBackoff(t *testing.T) {
	ing := &mockIngester{failures: 10, err: ingest.ErrNoSource}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{
		Workers:      1,
		JobRetries:   3,
		RetryBackoff: time.Hour,
	})

	id, err := s.Submit(ingest.Request{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// An hour-long backoff makes any accidental retry sleep fail the
	// poll deadline: the job must terminate without waiting one out.
	job := waitTerminal(t, s, id)
	if job.State != StateFailed {
		t.Fatalf("state = %v, want failed", job.State)
	}
	if ing.callCount() != 1 {
		t.Errorf("ingest calls = %d, want 1", ing.callCount())
	}
}

func TestDeleteSession_CancelsQueuedAndDropsCollection(t *testing.T) {
	ing := &mockIngester{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	reg := &mockRegistry{}
	store := &mockStore{}
	s := newTestScheduler(t, ing, reg, store, Config{Workers: 1})

	running, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queued, err := s.Submit(ingest.Request{SessionID: "s1", Source: "b", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// First job is in flight, second is queued behind it.
	select {
	case <-ing.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	done := make(chan error, 1)
	go func() { done <- s.DeleteSession(context.Background(), "s1") }()

	// Deletion must wait for the running job's batch to finish.
	time.Sleep(10 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("DeleteSession returned %v before the running job finished", err)
	default:
	}
	close(ing.release)

	if err := <-done; err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if job := waitTerminal(t, s, running); job.State != StateSucceeded {
		t.Errorf("running job state = %v", job.State)
	}
	canceled, err := s.Status(queued)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if canceled.State != StateFailed || canceled.Error != "collection deleted" {
		t.Errorf("queued job = %v (%q)", canceled.State, canceled.Error)
	}

	if len(reg.marked) != 1 || reg.marked[0] != "session-scoped:s1" {
		t.Errorf("marked = %v", reg.marked)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "session-scoped:s1" {
		t.Errorf("deleted = %v", store.deleted)
	}
	if len(reg.finished) != 1 {
		t.Errorf("finished = %v", reg.finished)
	}
	if ing.callCount() != 1 {
		t.Errorf("canceled job still ran: %d calls", ing.callCount())
	}
}

func TestDeleteSession_BlocksNewSubmissions(t *testing.T) {
	ing := &mockIngester{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	reg := &mockRegistry{}
	store := &mockStore{}
	s := newTestScheduler(t, ing, reg, store, Config{Workers: 2})

	running, err := s.Submit(ingest.Request{SessionID: "s1", Source: "a", Text: "note"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-ing.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	done := make(chan error, 1)
	go func() { done <- s.DeleteSession(context.Background(), "s1") }()

	// While the teardown drains the running job, a new submission for
	// the session must be rejected rather than queued: a job accepted
	// here would run into a collection about to be dropped.
	var submitErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, submitErr = s.Submit(ingest.Request{SessionID: "s1", Source: "late", Text: "note"}); submitErr != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(submitErr, collection.ErrDeleting) {
		t.Fatalf("late Submit error = %v, want collection.ErrDeleting", submitErr)
	}

	close(ing.release)
	if err := <-done; err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if job := waitTerminal(t, s, running); job.State != StateSucceeded {
		t.Errorf("running job state = %v", job.State)
	}
	// Only the original job ever executed.
	if got := ing.callCount(); got != 1 {
		t.Errorf("ingest calls = %d, want 1", got)
	}
	for _, src := range ing.startOrder() {
		if src == "late" {
			t.Error("a job submitted during deletion was executed")
		}
	}
}

func TestDeleteSession_SubmitAcceptedAgainAfterwards(t *testing.T) {
	ing := &mockIngester{}
	s := newTestScheduler(t, ing, &mockRegistry{}, &mockStore{}, Config{Workers: 1})

	if err := s.DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	id, err := s.Submit(ingest.Request{SessionID: "s1", Source: "fresh", Text: "note"})
	if err != nil {
		t.Fatalf("Submit after completed deletion: %v", err)
	}
	if job := waitTerminal(t, s, id); job.State != StateSucceeded {
		t.Errorf("state = %v, error = %q", job.State, job.Error)
	}
}

func TestDeleteSession_StoreFailureKeepsDeletingState(t *testing.T) {
	reg := &mockRegistry{}
	store := &mockStore{err: errors.New("database down")}
	s := newTestScheduler(t, &mockIngester{}, reg, store, Config{Workers: 1})

	if err := s.DeleteSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
	// FinishDelete must not run when the drop failed.
	if len(reg.finished) != 0 {
		t.Errorf("finished = %v", reg.finished)
	}
}

func TestDeleteSession_RefusesGlobal(t *testing.T) {
	s := newTestScheduler(t, &mockIngester{}, &mockRegistry{}, &mockStore{}, Config{Workers: 1})

	if err := s.DeleteSession(context.Background(), ""); err == nil {
		t.Error("expected refusal for the global collection")
	}
}

func TestSubmit_AfterCloseRejected(t *testing.T) {
	s := New(&mockIngester{}, &mockRegistry{}, &mockStore{}, collection.NewNaming("", ""), Config{Workers: 1}, log.NewNop())
	s.Close()

	if _, err := s.Submit(ingest.Request{Text: "note"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	s.Close()
}

func TestStatus_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, &mockIngester{}, &mockRegistry{}, &mockStore{}, Config{Workers: 1})

	if _, err := s.Status("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobState_String(t *testing.T) {
	cases := map[JobState]string{
		StateQueued:    "queued",
		StateRunning:   "running",
		StateSucceeded: "succeeded",
		StateFailed:    "failed",
		JobState(99):   "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
