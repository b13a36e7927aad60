package domain

import "time"

// Wire payloads for the ingest API. Field names follow the remote contract
// and are shared by the client and the devserver.

type CreateRunRequest struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

type CreateRunResponse struct {
	ID string `json:"id"`
}

type SubmitResultsRequest struct {
	Results []ResultRecord `json:"results" binding:"required"`
}

// ResultAck is the per-item acceptance status returned by the ingest
// service for one submitted record.
type ResultAck struct {
	ExternalID string `json:"externalId"`
	ID         string `json:"id,omitempty"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

type SubmitResultsResponse struct {
	Results []ResultAck `json:"results"`
}

type UploadAttachmentRequest struct {
	Name          string         `json:"name" binding:"required"`
	ContentType   string         `json:"contentType,omitempty"`
	Kind          AttachmentKind `json:"kind,omitempty"`
	ContentBase64 string         `json:"contentBase64" binding:"required"`
}

type UploadAttachmentResponse struct {
	ID string `json:"id"`
}

type CompleteRunRequest struct {
	Summary RunSummary `json:"summary"`
}
