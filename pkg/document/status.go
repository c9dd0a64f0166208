package document

import "fmt"

// ProcessingStatus is the lifecycle state of a document. The zero value is
// not a valid status; documents are created in StatusLocal.
type ProcessingStatus string

const (
	// StatusLocal is the initial state before any bytes have been accepted.
	StatusLocal ProcessingStatus = "local"

	// StatusUploading means upload bytes are being received.
	StatusUploading ProcessingStatus = "uploading"

	// StatusProcessing means the bytes were handed to extraction and the
	// ingestion pipeline owns the document.
	StatusProcessing ProcessingStatus = "processing"

	// StatusReady is terminal: all surviving chunks are embedded and indexed.
	StatusReady ProcessingStatus = "ready"

	// StatusFailed is terminal for the attempt: extraction failed, the error
	// tolerance was exceeded, the attempt timed out, or it was cancelled.
	StatusFailed ProcessingStatus = "failed"
)

// Valid reports whether s is one of the five known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusLocal, StatusUploading, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends an ingestion attempt.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Re-ingestion of a terminal document starts a fresh attempt, so
// READY and FAILED may both move back to PROCESSING.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusLocal:
		return next == StatusUploading
	case StatusUploading:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusReady || next == StatusFailed
	case StatusReady, StatusFailed:
		// A retry creates a fresh processing attempt rather than mutating
		// history; superseded vectors are overwritten on upsert.
		return next == StatusProcessing
	}
	return false
}

// Transition validates the move from s to next and returns next, or an error
// naming both states when the move is illegal.
func (s ProcessingStatus) Transition(next ProcessingStatus) (ProcessingStatus, error) {
	if !next.Valid() {
		return s, fmt.Errorf("unknown status %q", next)
	}
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal status transition %s -> %s", s, next)
	}
	return next, nil
}
