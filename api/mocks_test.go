package api

import (
	"context"
	"time"

	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/schedule"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockScheduler implements Scheduler for handler tests.
type mockScheduler struct {
	submitErr   error
	submitID    string
	submitCalls int
	lastReq     ingest.Request
	job         schedule.Job
	statusErr   error
	deleteErr   error
	deletedIDs  []string
}

func (m *mockScheduler) Submit(req ingest.Request) (string, error) {
	m.submitCalls++
	m.lastReq = req
	if m.submitErr != nil {
		return "", m.submitErr
	}
	if m.submitID == "" {
		return "job-1", nil
	}
	return m.submitID, nil
}

func (m *mockScheduler) Status(jobID string) (schedule.Job, error) {
	if m.statusErr != nil {
		return schedule.Job{}, m.statusErr
	}
	return m.job, nil
}

func (m *mockScheduler) DeleteSession(_ context.Context, sessionID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, sessionID)
	return nil
}

// mockEngine implements Engine for handler tests.
type mockEngine struct {
	result  rag.Context
	err     error
	lastReq rag.Request
}

func (m *mockEngine) Query(_ context.Context, req rag.Request) (rag.Context, error) {
	m.lastReq = req
	if m.err != nil {
		return rag.Context{}, m.err
	}
	return m.result, nil
}

// mockLister implements Lister for handler tests.
type mockLister struct {
	infos []vecstore.CollectionInfo
	err   error
}

func (m *mockLister) ListCollections(context.Context) ([]vecstore.CollectionInfo, error) {
	return m.infos, m.err
}

func sampleJob() schedule.Job {
	return schedule.Job{
		ID:          "job-1",
		SessionID:   "s1",
		Collection:  "session-scoped:s1",
		State:       schedule.StateSucceeded,
		Chunks:      4,
		SubmittedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2026, 8, 1, 10, 0, 3, 0, time.UTC),
	}
}
