package reporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/testrelay/testrelay/internal/ingest"
	"github.com/testrelay/testrelay/internal/pipeline"
	"github.com/testrelay/testrelay/internal/transport"
	"github.com/testrelay/testrelay/pkg/config"
	"github.com/testrelay/testrelay/pkg/domain"
)

// Reporter is the producer-facing surface of the delivery pipeline. A test
// framework hooks RunStart/ItemComplete/RunEnd into its own lifecycle; the
// reporter never propagates an upload problem back into the producer unless
// failSilently is off.
type Reporter struct {
	cfg    *config.Config
	logger *slog.Logger
	api    ingest.API
	coord  *pipeline.Coordinator
	out    io.Writer
}

func New(cfg *config.Config, logger *slog.Logger) *Reporter {
	tc := transport.New(transport.Options{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		MaxRetries: cfg.MaxRetries,
		Timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		Policy:     cfg.BackoffPolicy,
		BaseDelay:  time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		RetryOn429: cfg.RetryOn429,
		Logger:     logger,
	})
	return NewWithAPI(cfg, ingest.NewClient(tc), logger)
}

// NewWithAPI builds a reporter over an existing ingest client.
func NewWithAPI(cfg *config.Config, api ingest.API, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		cfg:    cfg,
		logger: logger,
		api:    api,
		coord: pipeline.NewCoordinator(api, pipeline.Options{
			RunName:           cfg.RunName,
			CreateSession:     cfg.CreateSession,
			BatchSize:         cfg.BatchSize,
			UploadAttachments: cfg.UploadAttachments,
			FailSilently:      cfg.FailSilently,
			Logger:            logger,
		}),
		out: os.Stdout,
	}
}

// SetOutput redirects the rendered summary, mainly for tests.
func (r *Reporter) SetOutput(w io.Writer) { r.out = w }

// RunStart opens the remote session. With failSilently (the default) it
// returns immediately and a creation failure surfaces later as
// diagnostics; otherwise the error is returned here and the caller decides
// whether to keep running.
func (r *Reporter) RunStart(ctx context.Context) error {
	return r.coord.Begin(ctx)
}

// ItemComplete hands one finished test over for upload and returns without
// waiting on network I/O.
func (r *Reporter) ItemComplete(rec domain.ResultRecord) {
	r.coord.Submit(rec)
}

// RunEnd drains every in-flight upload, reconciles the final counts,
// posts the run summary (best effort) and renders the report.
func (r *Reporter) RunEnd(ctx context.Context, executed domain.Counts) pipeline.Report {
	r.coord.Drain(ctx)
	rep := r.coord.Finalize(executed)

	if runID, ok := r.coord.RunID(); ok {
		if err := r.api.CompleteRun(ctx, runID, domain.CompleteRunRequest{Summary: rep.Summary}); err != nil {
			r.logger.Warn("run completion upload failed", "runId", runID, "err", err)
		}
	}

	r.render(rep)
	return rep
}

// Attempted reports how many records were handed over so far.
func (r *Reporter) Attempted() int { return r.coord.Attempted() }

// Resolved reports how many records have reached a terminal outcome.
func (r *Reporter) Resolved() int { return r.coord.Resolved() }

// RunID exposes the remote session identifier once known.
func (r *Reporter) RunID() (string, bool) { return r.coord.RunID() }

func (r *Reporter) render(rep pipeline.Report) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	s := rep.Summary
	fmt.Fprintf(r.out, "\nRun finished in %s\n", (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(r.out, "  %s %d   %s %d   %s %d   %s %d\n",
		ok("passed"), s.Passed,
		bad("failed"), s.Failed,
		warn("skipped"), s.Skipped,
		dim("total"), s.Total,
	)

	attempted := r.coord.Attempted()
	if attempted > 0 && s.UploadedTotal < attempted {
		fmt.Fprintf(r.out, "  %s uploaded %d of %d results\n", warn("[WARN]"), s.UploadedTotal, attempted)
	} else if attempted > 0 {
		fmt.Fprintf(r.out, "  uploaded %d results\n", s.UploadedTotal)
	}

	for _, d := range rep.Diagnostics {
		fmt.Fprintf(r.out, "  %s %s\n", warn("!"), d)
	}
}
