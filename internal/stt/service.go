package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/bus"
	"github.com/Gennadynemchin/AssistantBot/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Service answers recognition jobs arriving on the bus. Workers share a
// queue group so each job is handled once.
type Service struct {
	bus        *bus.Client
	recognizer Recognizer
	timeout    time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	mu         sync.Mutex
	ready      bool
}

func NewService(parent context.Context, busClient *bus.Client, recognizer Recognizer, timeout time.Duration) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:        busClient,
		recognizer: recognizer,
		timeout:    timeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectRecognitionRequest, protocol.QueueRecognitionWorkers, s.handleJob)
	if err != nil {
		return fmt.Errorf("subscribe recognition jobs: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.sub
	s.ready = false
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) handleJob(msg *nats.Msg) {
	var job protocol.RecognitionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		s.bus.Logger().Warn("failed to decode recognition job", slogError(err))
		s.respond(msg, protocol.RecognitionResult{ErrorKind: protocol.ErrorKindInternal, Error: err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(s.ctx, s.timeout)
			defer cancel()
		}

		res, err := s.recognizer.Transcribe(ctx, job.Bucket, job.Key)
		reply := protocol.RecognitionResult{
			JobID:       job.JobID,
			OperationID: res.OperationID,
			Text:        res.Text,
			Lines:       res.Lines,
			Decoded:     res.Decoded,
		}
		if err != nil {
			reply.ErrorKind = ErrorKind(err)
			reply.Error = err.Error()
			s.publish(protocol.SubjectRecognitionFailed, reply)
		} else {
			s.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
				JobID:       job.JobID,
				OperationID: res.OperationID,
				Key:         job.Key,
				Text:        res.Text,
				Timestamp:   time.Now().UTC(),
			})
		}
		s.respond(msg, reply)
	}()
}

func (s *Service) respond(msg *nats.Msg, reply protocol.RecognitionResult) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal recognition result", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.bus.Logger().Warn("failed to respond to recognition job", slogError(err))
	}
}

func (s *Service) publish(subject string, v any) {
	if err := s.bus.Publish(subject, v); err != nil {
		s.bus.Logger().Warn("failed to publish recognition event", slogError(err))
	}
}

// ErrorKind classifies err for the wire.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrSubmission):
		return protocol.ErrorKindSubmission
	case errors.Is(err, ErrTimeout):
		return protocol.ErrorKindTimeout
	default:
		return protocol.ErrorKindInternal
	}
}

// RemoteError is a failure reported by a recognition worker on the bus.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return "remote recognition failed: " + e.Message
}

func (e *RemoteError) Is(target error) bool {
	switch e.Kind {
	case protocol.ErrorKindSubmission:
		return target == ErrSubmission
	case protocol.ErrorKindTimeout:
		return target == ErrTimeout
	}
	return false
}

// RemoteRecognizer forwards jobs to the bus workers and waits for the reply.
type RemoteRecognizer struct {
	bus   *bus.Client
	newID func() string
}

// NewRemoteRecognizer builds a bus client recognizer. newID defaults to random UUIDs.
func NewRemoteRecognizer(busClient *bus.Client, newID func() string) *RemoteRecognizer {
	if newID == nil {
		newID = uuid.NewString
	}
	return &RemoteRecognizer{bus: busClient, newID: newID}
}

func (r *RemoteRecognizer) Transcribe(ctx context.Context, bucket, key string) (Result, error) {
	job := protocol.RecognitionJob{JobID: r.newID(), Bucket: bucket, Key: key}
	var reply protocol.RecognitionResult
	if err := r.bus.Request(ctx, protocol.SubjectRecognitionRequest, job, &reply); err != nil {
		return Result{}, err
	}
	res := Result{
		OperationID: reply.OperationID,
		Text:        reply.Text,
		Lines:       reply.Lines,
		Decoded:     reply.Decoded,
	}
	if reply.Error != "" {
		return res, &RemoteError{Kind: reply.ErrorKind, Message: reply.Error}
	}
	return res, nil
}
