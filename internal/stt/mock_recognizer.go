package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, bucket, key string) (Result, error) {
	return Result{
		OperationID: "mock-" + key,
		Text:        fmt.Sprintf("[mock transcript for %s/%s]", bucket, key),
		Lines:       1,
		Decoded:     1,
	}, nil
}
