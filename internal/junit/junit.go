package junit

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/testrelay/testrelay/pkg/domain"
)

// Package junit turns a JUnit XML report into result records so the CLI
// can replay an existing report through the delivery pipeline.

type testSuites struct {
	XMLName xml.Name    `xml:"testsuites"`
	Suites  []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name      string     `xml:"name,attr"`
	Timestamp string     `xml:"timestamp,attr"`
	Cases     []testCase `xml:"testcase"`
	Nested    []testSuite `xml:"testsuite"`
}

type testCase struct {
	Name      string  `xml:"name,attr"`
	ClassName string  `xml:"classname,attr"`
	Time      float64 `xml:"time,attr"`
	Failure   *detail `xml:"failure"`
	Error     *detail `xml:"error"`
	Skipped   *detail `xml:"skipped"`
}

type detail struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func ParseFile(path string) ([]domain.ResultRecord, domain.Counts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Counts{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse accepts either a <testsuites> document or a bare <testsuite> root.
func Parse(r io.Reader) ([]domain.ResultRecord, domain.Counts, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.Counts{}, err
	}

	var root testSuites
	if err := xml.Unmarshal(data, &root); err != nil {
		var single testSuite
		if err2 := xml.Unmarshal(data, &single); err2 != nil {
			return nil, domain.Counts{}, fmt.Errorf("not a junit report: %w", err)
		}
		root.Suites = []testSuite{single}
	}

	var records []domain.ResultRecord
	var counts domain.Counts
	now := time.Now().UTC()
	for _, s := range root.Suites {
		collect(s, now, &records, &counts)
	}
	return records, counts, nil
}

func collect(s testSuite, now time.Time, records *[]domain.ResultRecord, counts *domain.Counts) {
	for _, tc := range s.Cases {
		rec := toRecord(tc, now)
		*records = append(*records, rec)
		counts.Total++
		switch rec.Status {
		case domain.StatusPassed:
			counts.Passed++
		case domain.StatusSkipped:
			counts.Skipped++
		default:
			// timedout is a failed execution for counting purposes.
			counts.Failed++
		}
	}
	for _, nested := range s.Nested {
		collect(nested, now, records, counts)
	}
}

func toRecord(tc testCase, now time.Time) domain.ResultRecord {
	title := tc.Name
	if tc.ClassName != "" {
		title = tc.ClassName + " > " + tc.Name
	}

	status := domain.StatusPassed
	var errDetail string
	switch {
	case tc.Skipped != nil:
		status = domain.StatusSkipped
	case tc.Failure != nil:
		status = classify(tc.Failure)
		errDetail = detailText(tc.Failure)
	case tc.Error != nil:
		status = classify(tc.Error)
		errDetail = detailText(tc.Error)
	}

	elapsed := time.Duration(tc.Time * float64(time.Second))
	return domain.ResultRecord{
		Title:       title,
		Status:      status,
		StartedAt:   now.Add(-elapsed),
		CompletedAt: now,
		ErrorDetail: errDetail,
	}
}

// classify maps a failure/error element to failed, or timedout when the
// type or message names a timeout. JUnit has no first-class timeout
// status, so this heuristic is the best available signal.
func classify(d *detail) domain.TestStatus {
	probe := strings.ToLower(d.Type + " " + d.Message)
	if strings.Contains(probe, "timeout") || strings.Contains(probe, "timed out") {
		return domain.StatusTimedOut
	}
	return domain.StatusFailed
}

func detailText(d *detail) string {
	if msg := strings.TrimSpace(d.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(d.Body)
}
