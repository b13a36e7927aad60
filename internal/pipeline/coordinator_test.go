package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testrelay/testrelay/pkg/domain"
)

type stubAPI struct {
	mu sync.Mutex

	createErr   error
	runID       string
	createCalls int

	submitCalls int
	submitted   [][]domain.ResultRecord
	// submitErrs are consumed one per SubmitResults call; nil entries and
	// calls past the end succeed.
	submitErrs []error
	reject     map[string]string

	attachCalls int
	attachErr   error

	completeCalls int
}

func (s *stubAPI) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	id := s.runID
	if id == "" {
		id = "run-1"
	}
	return &domain.CreateRunResponse{ID: id}, nil
}

func (s *stubAPI) SubmitResults(ctx context.Context, runID string, req domain.SubmitResultsRequest) (*domain.SubmitResultsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.submitCalls
	s.submitCalls++
	s.submitted = append(s.submitted, req.Results)
	if call < len(s.submitErrs) && s.submitErrs[call] != nil {
		return nil, s.submitErrs[call]
	}
	resp := &domain.SubmitResultsResponse{}
	for _, rec := range req.Results {
		ack := domain.ResultAck{ExternalID: rec.ExternalID, ID: "res-" + rec.ExternalID, Accepted: true}
		if msg, ok := s.reject[rec.Title]; ok {
			ack = domain.ResultAck{ExternalID: rec.ExternalID, Accepted: false, Error: msg}
		}
		resp.Results = append(resp.Results, ack)
	}
	return resp, nil
}

func (s *stubAPI) UploadAttachment(ctx context.Context, resultID string, req domain.UploadAttachmentRequest) (*domain.UploadAttachmentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachCalls++
	if s.attachErr != nil {
		return nil, s.attachErr
	}
	return &domain.UploadAttachmentResponse{ID: "att-1"}, nil
}

func (s *stubAPI) CompleteRun(ctx context.Context, runID string, req domain.CompleteRunRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	return nil
}

func record(title string, status domain.TestStatus) domain.ResultRecord {
	now := time.Now().UTC()
	return domain.ResultRecord{
		Title:       title,
		Status:      status,
		StartedAt:   now.Add(-time.Second),
		CompletedAt: now,
	}
}

func newTestCoordinator(api *stubAPI, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.CreateSession = true
	return NewCoordinator(api, opts)
}

func TestStreamingSinglePassedRecord(t *testing.T) {
	api := &stubAPI{runID: "run-1"}
	c := newTestCoordinator(api, Options{FailSilently: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Submit(record("adds two numbers", domain.StatusPassed))

	failures := c.Drain(context.Background())
	if len(failures) != 0 {
		t.Fatalf("Drain failures = %v, want none", failures)
	}

	rep := c.Finalize(domain.Counts{Total: 1, Passed: 1})
	sum := rep.Summary
	if sum.Total != 1 || sum.Passed != 1 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Errorf("Summary = %+v, want total 1 passed 1", sum)
	}
	if sum.UploadedTotal != 1 {
		t.Errorf("UploadedTotal = %d, want 1", sum.UploadedTotal)
	}
	if len(rep.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", rep.Diagnostics)
	}
	if id, ok := c.RunID(); !ok || id != "run-1" {
		t.Errorf("RunID = (%q, %v), want (run-1, true)", id, ok)
	}
}

func TestSessionCreationFailureDeduplicated(t *testing.T) {
	api := &stubAPI{createErr: errors.New("quota exceeded")}
	c := newTestCoordinator(api, Options{FailSilently: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin with failSilently should not error, got %v", err)
	}
	for i := 0; i < 5; i++ {
		c.Submit(record("case", domain.StatusPassed))
	}

	failures := c.Drain(context.Background())
	if len(failures) != 5 {
		t.Fatalf("got %d failures, want 5", len(failures))
	}
	for _, f := range failures {
		if f.Reason != failures[0].Reason {
			t.Errorf("failure reasons diverge: %q vs %q", f.Reason, failures[0].Reason)
		}
		if !strings.Contains(f.Reason, "quota exceeded") {
			t.Errorf("failure reason %q does not mention the cause", f.Reason)
		}
	}

	rep := c.Finalize(domain.Counts{Total: 5, Passed: 5})
	if rep.Summary.UploadedTotal != 0 {
		t.Errorf("UploadedTotal = %d, want 0", rep.Summary.UploadedTotal)
	}
	if len(rep.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %v, want exactly one deduplicated line", rep.Diagnostics)
	}
	if !strings.Contains(rep.Diagnostics[0], "5 items") || !strings.Contains(rep.Diagnostics[0], "quota exceeded") {
		t.Errorf("diagnostic %q missing count or cause", rep.Diagnostics[0])
	}
	if api.submitCalls != 0 {
		t.Errorf("submitCalls = %d, want 0 (no upload without a session)", api.submitCalls)
	}
}

func TestSessionCreationFailurePropagatesWhenNotSilent(t *testing.T) {
	api := &stubAPI{createErr: errors.New("quota exceeded")}
	c := newTestCoordinator(api, Options{FailSilently: false})

	err := c.Begin(context.Background())
	var sessErr *SessionUnavailableError
	if !errors.As(err, &sessErr) {
		t.Fatalf("Begin error = %v, want SessionUnavailableError", err)
	}
}

func TestBatchedModeFlushCount(t *testing.T) {
	api := &stubAPI{runID: "run-1"}
	c := newTestCoordinator(api, Options{FailSilently: true, BatchSize: 2})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Submit(record("a", domain.StatusPassed))
	c.Submit(record("b", domain.StatusPassed))
	c.Submit(record("c", domain.StatusFailed))

	failures := c.Drain(context.Background())
	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none", failures)
	}

	if api.submitCalls != 2 {
		t.Fatalf("submitCalls = %d, want exactly 2 (one full batch, one at drain)", api.submitCalls)
	}
	if len(api.submitted[0]) != 2 || len(api.submitted[1]) != 1 {
		t.Errorf("batch sizes = %d,%d, want 2,1", len(api.submitted[0]), len(api.submitted[1]))
	}
}

func TestBatchedModeRequeueOnFailure(t *testing.T) {
	api := &stubAPI{runID: "run-1", submitErrs: []error{errors.New("boom")}}
	c := newTestCoordinator(api, Options{FailSilently: true, BatchSize: 2})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Submit(record("a", domain.StatusPassed))
	c.Submit(record("b", domain.StatusPassed))

	failures := c.Drain(context.Background())
	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none after requeue+retry", failures)
	}
	if api.submitCalls != 2 {
		t.Errorf("submitCalls = %d, want 2 (failed flush retried at drain)", api.submitCalls)
	}

	rep := c.Finalize(domain.Counts{Total: 2, Passed: 2})
	if rep.Summary.UploadedTotal != 2 {
		t.Errorf("UploadedTotal = %d, want 2", rep.Summary.UploadedTotal)
	}
}

func TestBatchedModeDrainFlushFailureIsTerminal(t *testing.T) {
	api := &stubAPI{runID: "run-1", submitErrs: []error{errors.New("down"), errors.New("down")}}
	c := newTestCoordinator(api, Options{FailSilently: true, BatchSize: 2})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Submit(record("a", domain.StatusPassed))
	c.Submit(record("b", domain.StatusPassed))

	failures := c.Drain(context.Background())
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2 terminal failures", len(failures))
	}

	rep := c.Finalize(domain.Counts{Total: 2, Passed: 2})
	if rep.Summary.UploadedTotal != 0 {
		t.Errorf("UploadedTotal = %d, want 0", rep.Summary.UploadedTotal)
	}
}

func TestAttachmentFailureDoesNotFlipOutcome(t *testing.T) {
	api := &stubAPI{runID: "run-1", attachErr: errors.New("blob store down")}
	c := newTestCoordinator(api, Options{FailSilently: true, UploadAttachments: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := record("renders home page", domain.StatusFailed)
	rec.Attachments = []domain.AttachmentRef{{
		Name:        "home.png",
		ContentType: "image/png",
		Kind:        domain.AttachmentScreenshot,
		Body:        []byte{0x89, 0x50, 0x4e, 0x47},
	}}
	c.Submit(rec)

	failures := c.Drain(context.Background())
	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none despite attachment failure", failures)
	}
	if api.attachCalls != 1 {
		t.Errorf("attachCalls = %d, want 1", api.attachCalls)
	}

	rep := c.Finalize(domain.Counts{Total: 1, Failed: 1})
	if rep.Summary.UploadedTotal != 1 {
		t.Errorf("UploadedTotal = %d, want 1 (record delivered)", rep.Summary.UploadedTotal)
	}
}

func TestRejectedRecordBecomesFailure(t *testing.T) {
	api := &stubAPI{runID: "run-1", reject: map[string]string{"bad": "schema mismatch"}}
	c := newTestCoordinator(api, Options{FailSilently: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Submit(record("good", domain.StatusPassed))
	c.Submit(record("bad", domain.StatusPassed))

	failures := c.Drain(context.Background())
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if failures[0].Title != "bad" || failures[0].Reason != "schema mismatch" {
		t.Errorf("failure = %+v, want title bad, reason schema mismatch", failures[0])
	}

	rep := c.Finalize(domain.Counts{Total: 2, Passed: 2})
	if rep.Summary.UploadedTotal != 1 {
		t.Errorf("UploadedTotal = %d, want 1", rep.Summary.UploadedTotal)
	}
	if len(rep.Diagnostics) != 1 || !strings.Contains(rep.Diagnostics[0], "bad") {
		t.Errorf("Diagnostics = %v, want one line naming the record", rep.Diagnostics)
	}
}

func TestEverySubmitGetsExactlyOneOutcome(t *testing.T) {
	api := &stubAPI{runID: "run-1", reject: map[string]string{"reject-me": "nope"}}
	c := newTestCoordinator(api, Options{FailSilently: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "ok"
			if i%4 == 0 {
				title = "reject-me"
			}
			c.Submit(record(title, domain.StatusPassed))
		}(i)
	}
	wg.Wait()

	failures := c.Drain(context.Background())

	c.mu.Lock()
	attempted, resolved := c.attempted, c.resolved
	c.mu.Unlock()
	if attempted != n {
		t.Fatalf("attempted = %d, want %d", attempted, n)
	}
	if resolved != n {
		t.Fatalf("resolved = %d, want %d (no task lost or duplicated)", resolved, n)
	}

	rep := c.Finalize(domain.Counts{Total: n, Passed: n})
	if got := rep.Summary.UploadedTotal; got != n-len(failures) {
		t.Errorf("UploadedTotal = %d, want attempted-failures = %d", got, n-len(failures))
	}
}

func TestNoSessionCreationUsesPresetRunID(t *testing.T) {
	api := &stubAPI{}
	c := NewCoordinator(api, Options{RunID: "preset-9", Logger: slog.Default(), FailSilently: true})

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if api.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", api.createCalls)
	}
	c.Submit(record("x", domain.StatusPassed))
	if failures := c.Drain(context.Background()); len(failures) != 0 {
		t.Fatalf("failures = %v, want none", failures)
	}
	if id, ok := c.RunID(); !ok || id != "preset-9" {
		t.Errorf("RunID = (%q, %v), want (preset-9, true)", id, ok)
	}
}
