package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/testrelay/testrelay/internal/metrics"
	"github.com/testrelay/testrelay/pkg/domain"
)

// Outcome is the terminal state of one upload task. A task resolves to
// exactly one Outcome and never surfaces an error to its caller.
type Outcome struct {
	OK     bool
	Reason string
}

func success() Outcome              { return Outcome{OK: true} }
func failure(reason string) Outcome { return Outcome{Reason: reason} }

// uploadRecords delivers a set of records in one request and resolves an
// Outcome per record from the per-item acceptance in the response. A
// transport-level failure resolves no outcomes and is returned so the
// caller can decide between requeue (batched mode) and terminal failure.
func (c *Coordinator) uploadRecords(ctx context.Context, runID string, records []domain.ResultRecord) ([]Outcome, error) {
	resp, err := c.api.SubmitResults(ctx, runID, domain.SubmitResultsRequest{Results: records})
	if err != nil {
		return nil, err
	}

	acks := make(map[string]domain.ResultAck, len(resp.Results))
	for _, ack := range resp.Results {
		acks[ack.ExternalID] = ack
	}

	outcomes := make([]Outcome, len(records))
	for i, rec := range records {
		ack, ok := acks[rec.ExternalID]
		switch {
		case !ok:
			outcomes[i] = failure("record not acknowledged by ingest service")
			metrics.UploadFailuresTotal.WithLabelValues("unacknowledged").Inc()
		case !ack.Accepted:
			reason := ack.Error
			if reason == "" {
				reason = "record rejected by ingest service"
			}
			outcomes[i] = failure(reason)
			metrics.UploadFailuresTotal.WithLabelValues("rejected").Inc()
		default:
			outcomes[i] = success()
			metrics.RecordsUploadedTotal.WithLabelValues(string(rec.Status)).Inc()
			if c.uploadAttachments && len(rec.Attachments) > 0 {
				c.sendAttachments(ctx, ack.ID, rec)
			}
		}
	}
	return outcomes, nil
}

// sendAttachments uploads a record's attachments concurrently once the
// remote result identifier is known. An attachment failure is logged and
// counted but never flips the parent record's outcome: a delivered record
// with a missing artifact beats a discarded record.
func (c *Coordinator) sendAttachments(ctx context.Context, resultID string, rec domain.ResultRecord) {
	var wg sync.WaitGroup
	for _, att := range rec.Attachments {
		wg.Add(1)
		go func(att domain.AttachmentRef) {
			defer wg.Done()
			req := domain.UploadAttachmentRequest{
				Name:          att.Name,
				ContentType:   att.ContentType,
				Kind:          att.Kind,
				ContentBase64: base64.StdEncoding.EncodeToString(att.Body),
			}
			if _, err := c.api.UploadAttachment(ctx, resultID, req); err != nil {
				metrics.AttachmentUploadsTotal.WithLabelValues(string(att.Kind), "failure").Inc()
				c.logger.Warn("attachment upload failed",
					"record", rec.Title, "attachment", att.Name, "err", err)
				return
			}
			metrics.AttachmentUploadsTotal.WithLabelValues(string(att.Kind), "success").Inc()
		}(att)
	}
	wg.Wait()
}

// runTask is the streaming-mode path: one record, one task. It awaits the
// readiness gate, then delivers. All internal errors become a Failure
// outcome; nothing propagates.
func (c *Coordinator) runTask(ctx context.Context, rec domain.ResultRecord) {
	defer func() {
		if r := recover(); r != nil {
			c.resolve(rec, failure(fmt.Sprintf("internal fault: %v", r)))
		}
	}()

	runID, err := c.gate.Await(ctx)
	if err != nil {
		c.resolve(rec, failure(err.Error()))
		metrics.UploadFailuresTotal.WithLabelValues("session").Inc()
		return
	}

	outcomes, err := c.uploadRecords(ctx, runID, []domain.ResultRecord{rec})
	if err != nil {
		c.resolve(rec, failure(err.Error()))
		metrics.UploadFailuresTotal.WithLabelValues("transport").Inc()
		return
	}
	c.resolve(rec, outcomes[0])
}
