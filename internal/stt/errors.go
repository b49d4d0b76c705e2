package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmission matches *SubmissionError.
	ErrSubmission = errors.New("recognition submission failed")
	// ErrNotReady matches *NotReadyError.
	ErrNotReady = errors.New("recognition not ready")
	// ErrTimeout matches *TimeoutError.
	ErrTimeout = errors.New("recognition timed out")
)

// SubmissionError is returned when the recognizer rejects a job. It is never retried.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("recognition submission failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// NotReadyError reports a poll attempt that did not yield results yet.
// StatusCode is zero when the attempt failed before a response arrived.
type NotReadyError struct {
	OperationID string
	StatusCode  int
	Err         error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s not ready: %v", e.OperationID, e.Err)
	}
	return fmt.Sprintf("operation %s not ready: status %d", e.OperationID, e.StatusCode)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// TimeoutError is returned once the poll budget is spent.
type TimeoutError struct {
	OperationID string
	Attempts    int
	Last        error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s not ready after %d attempts: %v", e.OperationID, e.Attempts, e.Last)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
