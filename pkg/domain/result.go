package domain

import (
	"encoding"
	"time"
)

type TestStatus string

const (
	StatusPassed   TestStatus = "passed"
	StatusFailed   TestStatus = "failed"
	StatusSkipped  TestStatus = "skipped"
	StatusTimedOut TestStatus = "timedout"
)

type AttachmentKind string

const (
	AttachmentScreenshot AttachmentKind = "screenshot"
	AttachmentVideo      AttachmentKind = "video"
	AttachmentTrace      AttachmentKind = "trace"
	AttachmentOther      AttachmentKind = "other"
)

// ResultRecord is one completed unit of work as observed locally.
// Immutable after construction; the pipeline owns it until uploaded.
type ResultRecord struct {
	// ExternalID is assigned on the client so batched per-item acceptance
	// can be matched without relying on response ordering.
	ExternalID  string          `json:"externalId"`
	Title       string          `json:"title"`
	Status      TestStatus      `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	ErrorDetail string          `json:"error,omitempty"`
	Attachments []AttachmentRef `json:"-"`
}

// AttachmentRef is a binary artifact bound to its parent record. It is
// uploaded only after the parent record's remote identifier is known.
type AttachmentRef struct {
	Name        string
	ContentType string
	Kind        AttachmentKind
	Body        []byte
}

// FailureRecord describes one record that could not be delivered.
// Used only for reporting; retries happen inside the transport, never here.
type FailureRecord struct {
	Title  string     `json:"title"`
	Reason string     `json:"reason"`
	Status TestStatus `json:"status"`
}

var (
	_ encoding.BinaryMarshaler = TestStatus("")
	_ encoding.TextMarshaler   = TestStatus("")
	_ encoding.BinaryMarshaler = AttachmentKind("")
	_ encoding.TextMarshaler   = AttachmentKind("")
)

func (s TestStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TestStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

func (k AttachmentKind) MarshalBinary() ([]byte, error) { return []byte(string(k)), nil }
func (k AttachmentKind) MarshalText() ([]byte, error)   { return []byte(string(k)), nil }

// Valid reports whether s is one of the recognized terminal statuses.
func (s TestStatus) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusTimedOut:
		return true
	}
	return false
}
