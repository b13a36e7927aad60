package reporter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/testrelay/testrelay/pkg/config"
	"github.com/testrelay/testrelay/pkg/domain"
)

type fakeAPI struct {
	mu            sync.Mutex
	createErr     error
	submitErr     error
	submitted     int
	completeCalls int
	completedWith domain.RunSummary
}

func (f *fakeAPI) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.CreateRunResponse{ID: "run-77"}, nil
}

func (f *fakeAPI) SubmitResults(ctx context.Context, runID string, req domain.SubmitResultsRequest) (*domain.SubmitResultsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	resp := &domain.SubmitResultsResponse{}
	for _, rec := range req.Results {
		f.submitted++
		resp.Results = append(resp.Results, domain.ResultAck{
			ExternalID: rec.ExternalID, ID: "res-" + rec.ExternalID, Accepted: true,
		})
	}
	return resp, nil
}

func (f *fakeAPI) UploadAttachment(ctx context.Context, resultID string, req domain.UploadAttachmentRequest) (*domain.UploadAttachmentResponse, error) {
	return &domain.UploadAttachmentResponse{ID: "att-1"}, nil
}

func (f *fakeAPI) CompleteRun(ctx context.Context, runID string, req domain.CompleteRunRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	f.completedWith = req.Summary
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RunName = "unit"
	return &cfg
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

func TestRunLifecycle(t *testing.T) {
	color.NoColor = true
	api := &fakeAPI{}
	r := NewWithAPI(testConfig(), api, slog.Default())
	var buf bytes.Buffer
	r.SetOutput(&buf)

	ctx := context.Background()
	if err := r.RunStart(ctx); err != nil {
		t.Fatalf("RunStart: %v", err)
	}
	r.ItemComplete(record("a", domain.StatusPassed))
	r.ItemComplete(record("b", domain.StatusFailed))

	rep := r.RunEnd(ctx, domain.Counts{Total: 2, Passed: 1, Failed: 1})
	if rep.Summary.UploadedTotal != 2 {
		t.Errorf("UploadedTotal = %d, want 2", rep.Summary.UploadedTotal)
	}
	if len(rep.Failures) != 0 {
		t.Errorf("failures = %v, want none", rep.Failures)
	}
	if api.completeCalls != 1 {
		t.Errorf("CompleteRun called %d times, want 1", api.completeCalls)
	}
	if api.completedWith.UploadedTotal != 2 {
		t.Errorf("completed summary = %+v, want uploadedTotal 2", api.completedWith)
	}

	out := buf.String()
	if !strings.Contains(out, "passed 1") || !strings.Contains(out, "failed 1") {
		t.Errorf("summary output missing counts: %q", out)
	}
	if !strings.Contains(out, "uploaded 2 results") {
		t.Errorf("summary output missing upload line: %q", out)
	}
}

func TestUploadGapIsSurfaced(t *testing.T) {
	color.NoColor = true
	api := &fakeAPI{createErr: errors.New("quota exceeded")}
	r := NewWithAPI(testConfig(), api, slog.Default())
	var buf bytes.Buffer
	r.SetOutput(&buf)

	ctx := context.Background()
	if err := r.RunStart(ctx); err != nil {
		t.Fatalf("RunStart with failSilently: %v", err)
	}
	for i := 0; i < 3; i++ {
		r.ItemComplete(record("t", domain.StatusPassed))
	}

	rep := r.RunEnd(ctx, domain.Counts{Total: 3, Passed: 3})
	if rep.Summary.UploadedTotal != 0 {
		t.Errorf("UploadedTotal = %d, want 0", rep.Summary.UploadedTotal)
	}
	if len(rep.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v, want single collapsed line", rep.Diagnostics)
	}
	if !strings.Contains(rep.Diagnostics[0], "3 items could not be uploaded") {
		t.Errorf("diagnostic = %q", rep.Diagnostics[0])
	}
	if !strings.Contains(buf.String(), "uploaded 0 of 3") {
		t.Errorf("output missing gap warning: %q", buf.String())
	}
	if api.completeCalls != 0 {
		t.Errorf("CompleteRun called %d times without a session, want 0", api.completeCalls)
	}
}

func TestRunStartErrorWhenNotSilent(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("denied")}
	cfg := testConfig()
	cfg.FailSilently = false
	r := NewWithAPI(cfg, api, slog.Default())

	if err := r.RunStart(context.Background()); err == nil {
		t.Fatal("RunStart returned nil, want session creation error")
	}
}
