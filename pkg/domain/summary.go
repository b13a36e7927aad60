package domain

// Counts are raw execution counters as reported by the producer.
// Total always equals Passed+Failed+Skipped for attempted records.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunSummary is the reconciled end-of-run summary. The status buckets keep
// the execution outcome; UploadedTotal is Total minus confirmed upload
// failures and may therefore be smaller than Passed+Failed+Skipped.
type RunSummary struct {
	Total         int   `json:"total"`
	Passed        int   `json:"passed"`
	Failed        int   `json:"failed"`
	Skipped       int   `json:"skipped"`
	UploadedTotal int   `json:"uploadedTotal"`
	DurationMs    int64 `json:"durationMs"`
}
