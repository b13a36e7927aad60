package ingest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/testrelay/testrelay/internal/transport"
	"github.com/testrelay/testrelay/pkg/domain"
)

// API is the remote ingest contract as seen by the pipeline. The contract
// is assumed, not owned: per-item acceptance on result submission, and
// attachment upload keyed by the result's remote identifier.
type API interface {
	CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error)
	SubmitResults(ctx context.Context, runID string, req domain.SubmitResultsRequest) (*domain.SubmitResultsResponse, error)
	UploadAttachment(ctx context.Context, resultID string, req domain.UploadAttachmentRequest) (*domain.UploadAttachmentResponse, error)
	CompleteRun(ctx context.Context, runID string, req domain.CompleteRunRequest) error
}

type client struct {
	t *transport.Client
}

func NewClient(t *transport.Client) API {
	return &client{t: t}
}

func (c *client) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	var out domain.CreateRunResponse
	if err := c.t.Send(ctx, http.MethodPost, "/v1/relay/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) SubmitResults(ctx context.Context, runID string, req domain.SubmitResultsRequest) (*domain.SubmitResultsResponse, error) {
	var out domain.SubmitResultsResponse
	path := "/v1/relay/runs/" + url.PathEscape(runID) + "/results"
	if err := c.t.Send(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) UploadAttachment(ctx context.Context, resultID string, req domain.UploadAttachmentRequest) (*domain.UploadAttachmentResponse, error) {
	var out domain.UploadAttachmentResponse
	path := "/v1/relay/results/" + url.PathEscape(resultID) + "/attachments"
	if err := c.t.Send(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) CompleteRun(ctx context.Context, runID string, req domain.CompleteRunRequest) error {
	path := "/v1/relay/runs/" + url.PathEscape(runID) + "/complete"
	return c.t.Send(ctx, http.MethodPost, path, req, nil)
}
