package pipeline

import (
	"fmt"
	"time"

	"github.com/testrelay/testrelay/pkg/domain"
)

// Report is the reconciled end-of-run view: consistent counts, the raw
// failure list, and human-readable diagnostics deduplicated by root cause.
type Report struct {
	Summary     domain.RunSummary
	Failures    []domain.FailureRecord
	Diagnostics []string
}

// Reconcile computes corrected totals. The status buckets reflect
// execution outcome, so passed+failed+skipped may exceed UploadedTotal
// when uploads were lost; that gap is surfaced through Diagnostics, never
// hidden.
func Reconcile(executed domain.Counts, attempted int, failures []domain.FailureRecord, sessionErr error, duration time.Duration) Report {
	uploaded := attempted - len(failures)
	if uploaded < 0 {
		uploaded = 0
	}
	return Report{
		Summary: domain.RunSummary{
			Total:         executed.Total,
			Passed:        executed.Passed,
			Failed:        executed.Failed,
			Skipped:       executed.Skipped,
			UploadedTotal: uploaded,
			DurationMs:    duration.Milliseconds(),
		},
		Failures:    failures,
		Diagnostics: diagnostics(failures, sessionErr),
	}
}

// diagnostics renders one line per distinct problem. When every failure
// shares the session-creation error as its reason, the N repeats collapse
// into a single summary line naming the original cause.
func diagnostics(failures []domain.FailureRecord, sessionErr error) []string {
	if len(failures) == 0 {
		return nil
	}

	if sessionErr != nil {
		msg := sessionErr.Error()
		all := true
		for _, f := range failures {
			if f.Reason != msg {
				all = false
				break
			}
		}
		if all {
			cause := msg
			if u, ok := sessionErr.(interface{ Unwrap() error }); ok {
				if inner := u.Unwrap(); inner != nil {
					cause = inner.Error()
				}
			}
			return []string{fmt.Sprintf(
				"%d items could not be uploaded because the session could not be created: %s",
				len(failures), cause,
			)}
		}
	}

	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, fmt.Sprintf("failed to upload %q: %s", f.Title, f.Reason))
	}
	return out
}
