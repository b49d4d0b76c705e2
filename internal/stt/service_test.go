package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/bus"
	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/Gennadynemchin/AssistantBot/internal/natsserver"
	"github.com/Gennadynemchin/AssistantBot/internal/protocol"
	"github.com/goccy/go-json"
)

type stubRecognizer struct {
	res Result
	err error
}

func (s stubRecognizer) Transcribe(context.Context, string, string) (Result, error) {
	return s.res, s.err
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Host: "127.0.0.1", Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestServiceAnswersRemoteJobs(t *testing.T) {
	client := startBus(t)
	events, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	svc := NewService(context.Background(), client, stubRecognizer{res: Result{OperationID: "op-7", Text: "привет", Lines: 1, Decoded: 1}}, time.Second)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected service to report healthy")
	}

	remote := NewRemoteRecognizer(client, func() string { return "job-1" })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := remote.Transcribe(ctx, "bucket", "folder/a.ogg")
	if err != nil {
		t.Fatalf("remote transcribe: %v", err)
	}
	if res.Text != "привет" || res.OperationID != "op-7" {
		t.Fatalf("unexpected result %+v", res)
	}

	msg, err := events.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected transcript event: %v", err)
	}
	var ev protocol.Transcript
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.JobID != "job-1" || ev.Key != "folder/a.ogg" || ev.Text != "привет" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestServiceReportsErrorKind(t *testing.T) {
	client := startBus(t)
	failing := stubRecognizer{err: &TimeoutError{OperationID: "op", Attempts: 50, Last: &NotReadyError{OperationID: "op", StatusCode: 404}}}
	svc := NewService(context.Background(), client, failing, time.Second)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewRemoteRecognizer(client, nil).Transcribe(ctx, "bucket", "k")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout match, got kind %q", remote.Kind)
	}
	if errors.Is(err, ErrSubmission) {
		t.Fatal("timeout must not match ErrSubmission")
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(&SubmissionError{StatusCode: 403}); got != protocol.ErrorKindSubmission {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := ErrorKind(errors.New("boom")); got != protocol.ErrorKindInternal {
		t.Fatalf("unexpected kind %q", got)
	}
}
