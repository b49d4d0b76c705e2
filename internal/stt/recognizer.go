package stt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result captures the outcome of one recognition job.
type Result struct {
	OperationID string
	Text        string
	// Lines is the number of raw result lines, Decoded how many of them carried text.
	Lines   int
	Decoded int
}

// Recognizer turns an uploaded audio object into text.
type Recognizer interface {
	Transcribe(ctx context.Context, bucket, key string) (Result, error)
}

// JobSubmitter starts a recognition job.
type JobSubmitter interface {
	Submit(ctx context.Context, bucket, key string) (Operation, error)
}

// ResultPoller waits for a job's raw result lines.
type ResultPoller interface {
	Poll(ctx context.Context, operationID string) ([]string, error)
}

// Pipeline submits a job, polls it to completion and decodes the result.
type Pipeline struct {
	submitter JobSubmitter
	poller    ResultPoller
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      instruments
}

func NewPipeline(submitter JobSubmitter, poller ResultPoller, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		submitter: submitter,
		poller:    poller,
		logger:    logger.With(slog.String("component", "stt")),
		tracer:    otel.Tracer(instrumentationName),
		inst:      newInstruments(),
	}
}

func (p *Pipeline) Transcribe(ctx context.Context, bucket, key string) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("stt.bucket", bucket),
		attribute.String("stt.key", key),
	))
	defer span.End()
	start := time.Now()

	op, err := p.submitter.Submit(ctx, bucket, key)
	if err != nil {
		p.fail(ctx, span, err)
		return Result{}, err
	}
	p.inst.submissions.Add(ctx, 1)
	span.SetAttributes(attribute.String("stt.operation_id", op.ID))
	p.logger.Info("recognition submitted", slog.String("operation_id", op.ID), slog.String("key", key))

	lines, err := p.poller.Poll(ctx, op.ID)
	if err != nil {
		p.fail(ctx, span, err)
		return Result{OperationID: op.ID}, err
	}

	text, decoded := decode(lines)
	elapsed := time.Since(start)
	p.inst.duration.Record(ctx, elapsed.Seconds())
	p.logger.Info("recognition complete",
		slog.String("operation_id", op.ID),
		slog.Int("lines", len(lines)),
		slog.Int("decoded", decoded),
		slog.Duration("elapsed", elapsed))

	return Result{
		OperationID: op.ID,
		Text:        text,
		Lines:       len(lines),
		Decoded:     decoded,
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, err error) {
	p.inst.failures.Add(ctx, 1)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Warn("recognition failed", slogError(err))
}

// Transcribe runs a single job against the production endpoints with the
// default retry policy and returns the transcript.
func Transcribe(ctx context.Context, client *http.Client, credential, bucket, key string) (string, error) {
	opts := DefaultOptions(credential)
	opts.HTTPClient = client
	res, err := NewPipeline(NewSubmitter(opts), NewPoller(opts, nil), nil).Transcribe(ctx, bucket, key)
	return res.Text, err
}

// OptionsFromConfig maps the stt section onto pipeline options. storageURL is
// the public base URL of the object storage holding the audio.
func OptionsFromConfig(cfg config.STTConfig, storageURL string) Options {
	return Options{
		SubmitURL:    cfg.SubmitURL,
		PollURL:      cfg.PollURL,
		StorageURL:   storageURL,
		Credential:   cfg.Credential,
		Model:        cfg.Model,
		Language:     cfg.Language,
		MaxAttempts:  cfg.MaxAttempts,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		HTTPClient:   &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond},
	}
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig, storageURL string, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "yandex":
		opts := OptionsFromConfig(cfg, storageURL)
		return NewPipeline(NewSubmitter(opts), NewPoller(opts, logger), logger), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
