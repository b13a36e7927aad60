package devserver

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/testrelay/testrelay/pkg/domain"
)

// Server is an in-memory implementation of the ingest contract, for local
// development and integration tests. It mirrors the remote service's
// observable behavior (per-item acceptance, attachment-by-result-id)
// without any persistence.
type Server struct {
	Engine *gin.Engine
	logger *slog.Logger

	mu      sync.Mutex
	runs    map[string]*runState
	results map[string]*storedResult
}

type runState struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	StartedAt time.Time           `json:"startedAt"`
	Results   []*storedResult     `json:"results"`
	Summary   *domain.RunSummary  `json:"summary,omitempty"`
	Completed bool                `json:"completed"`
}

type storedResult struct {
	ID          string              `json:"id"`
	Record      domain.ResultRecord `json:"record"`
	Attachments []attachmentMeta    `json:"attachments,omitempty"`
}

type attachmentMeta struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	ContentType string                `json:"contentType,omitempty"`
	Kind        domain.AttachmentKind `json:"kind,omitempty"`
	SizeBytes   int                   `json:"sizeBytes"`
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:  logger,
		runs:    make(map[string]*runState),
		results: make(map[string]*storedResult),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/v1/relay")
	v1.POST("/runs", s.createRun)
	v1.POST("/runs/:id/results", s.submitResults)
	v1.POST("/results/:id/attachments", s.uploadAttachment)
	v1.POST("/runs/:id/complete", s.completeRun)
	v1.GET("/runs/:id", s.getRun)
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.Engine = engine
	return s
}

func (s *Server) createRun(c *gin.Context) {
	var req domain.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	run := &runState{
		ID:        "run-" + uuid.NewString(),
		Name:      req.Name,
		StartedAt: req.StartedAt,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.logger.Info("run created", "runId", run.ID, "name", run.Name)
	c.JSON(http.StatusOK, domain.CreateRunResponse{ID: run.ID})
}

func (s *Server) submitResults(c *gin.Context) {
	runID := c.Param("id")
	var req domain.SubmitResultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if run.Completed {
		c.JSON(http.StatusConflict, gin.H{"error": "run already completed"})
		return
	}

	resp := domain.SubmitResultsResponse{}
	for _, rec := range req.Results {
		resp.Results = append(resp.Results, s.acceptLocked(run, rec))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) acceptLocked(run *runState, rec domain.ResultRecord) domain.ResultAck {
	if rec.Title == "" {
		return domain.ResultAck{ExternalID: rec.ExternalID, Accepted: false, Error: "title is required"}
	}
	if !rec.Status.Valid() {
		return domain.ResultAck{ExternalID: rec.ExternalID, Accepted: false, Error: "unknown status"}
	}
	stored := &storedResult{
		ID:     "res-" + uuid.NewString(),
		Record: rec,
	}
	run.Results = append(run.Results, stored)
	s.results[stored.ID] = stored
	return domain.ResultAck{ExternalID: rec.ExternalID, ID: stored.ID, Accepted: true}
}

func (s *Server) uploadAttachment(c *gin.Context) {
	resultID := c.Param("id")
	var req domain.UploadAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contentBase64 is not valid base64"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.results[resultID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	meta := attachmentMeta{
		ID:          "att-" + uuid.NewString(),
		Name:        req.Name,
		ContentType: req.ContentType,
		Kind:        req.Kind,
		SizeBytes:   len(data),
	}
	stored.Attachments = append(stored.Attachments, meta)
	c.JSON(http.StatusOK, domain.UploadAttachmentResponse{ID: meta.ID})
}

func (s *Server) completeRun(c *gin.Context) {
	runID := c.Param("id")
	var req domain.CompleteRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	summary := req.Summary
	run.Summary = &summary
	run.Completed = true
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}
