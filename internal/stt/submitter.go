package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

const maxErrorBody = 4096

// Operation is the handle returned for an accepted recognition job.
type Operation struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	ModifiedAt  string `json:"modifiedAt,omitempty"`
	Done        bool   `json:"done"`
}

// Submitter starts recognition jobs. A submission is sent exactly once.
type Submitter struct {
	url        string
	storageURL string
	credential string
	model      string
	language   string
	client     *http.Client
}

func NewSubmitter(opts Options) *Submitter {
	url := opts.SubmitURL
	if url == "" {
		url = DefaultSubmitURL
	}
	return &Submitter{
		url:        url,
		storageURL: opts.StorageURL,
		credential: opts.Credential,
		model:      opts.Model,
		language:   opts.Language,
		client:     opts.httpClient(),
	}
}

// Submit asks the recognizer to process bucket/key and returns the operation handle.
func (s *Submitter) Submit(ctx context.Context, bucket, key string) (Operation, error) {
	payload := NewRecognitionRequest(ObjectURI(s.storageURL, bucket, key), s.model, s.language)
	body, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("marshal recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Operation{}, fmt.Errorf("create submission request: %w", err)
	}
	req.Header.Set("Authorization", s.credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Operation{}, fmt.Errorf("submit recognition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Operation{}, &SubmissionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var op Operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return Operation{}, fmt.Errorf("decode submission response: %w", err)
	}
	if op.ID == "" {
		return Operation{}, &SubmissionError{StatusCode: resp.StatusCode, Body: "response carries no operation id"}
	}
	return op, nil
}
