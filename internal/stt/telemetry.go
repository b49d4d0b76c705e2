package stt

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/Gennadynemchin/AssistantBot/internal/stt"

type instruments struct {
	submissions  metric.Int64Counter
	pollAttempts metric.Int64Counter
	failures     metric.Int64Counter
	duration     metric.Float64Histogram
}

// newInstruments binds to the global meter provider. Instruments that fail to
// register fall back to no-ops.
func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)
	inst := instruments{
		submissions:  noop.Int64Counter{},
		pollAttempts: noop.Int64Counter{},
		failures:     noop.Int64Counter{},
		duration:     noop.Float64Histogram{},
	}
	if c, err := meter.Int64Counter("stt.submissions", metric.WithDescription("Recognition jobs accepted by the recognizer")); err == nil {
		inst.submissions = c
	}
	if c, err := meter.Int64Counter("stt.poll_attempts", metric.WithDescription("Recognition poll requests sent")); err == nil {
		inst.pollAttempts = c
	}
	if c, err := meter.Int64Counter("stt.failures", metric.WithDescription("Recognition jobs that ended in an error")); err == nil {
		inst.failures = c
	}
	if h, err := meter.Float64Histogram("stt.transcribe.duration", metric.WithUnit("s"), metric.WithDescription("Time from submission to decoded transcript")); err == nil {
		inst.duration = h
	}
	return inst
}
