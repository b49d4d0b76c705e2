package protocol

import "time"

// RecognitionJob asks a recognition worker to transcribe an uploaded object.
type RecognitionJob struct {
	JobID  string `json:"job_id"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// RecognitionResult is the reply to a RecognitionJob.
type RecognitionResult struct {
	JobID       string `json:"job_id"`
	OperationID string `json:"operation_id,omitempty"`
	Text        string `json:"text"`
	Lines       int    `json:"lines"`
	Decoded     int    `json:"decoded"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Transcript is broadcast on the bus once a job completes.
type Transcript struct {
	JobID       string    `json:"job_id"`
	OperationID string    `json:"operation_id"`
	Key         string    `json:"key"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// Error kinds carried by RecognitionResult.
const (
	ErrorKindSubmission = "submission"
	ErrorKindTimeout    = "timeout"
	ErrorKindInternal   = "internal"
)

const (
	SubjectRecognitionRequest = "stt.job.request"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectRecognitionFailed  = "stt.job.failed"

	QueueRecognitionWorkers = "stt-workers"
)
