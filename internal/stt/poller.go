package stt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/retry"
	"go.opentelemetry.io/otel/metric"
)

const maxLineSize = 1 << 20

// Poller waits for a recognition operation to produce its result stream.
type Poller struct {
	url         string
	credential  string
	client      *http.Client
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
	attempts    metric.Int64Counter

	// Final decides whether a 200 response completes the operation. When nil
	// every 200 is final, even with no lines.
	Final func(lines []string) bool
}

func NewPoller(opts Options, logger *slog.Logger) *Poller {
	pollURL := opts.PollURL
	if pollURL == "" {
		pollURL = DefaultPollURL
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		url:         pollURL,
		credential:  opts.Credential,
		client:      opts.httpClient(),
		maxAttempts: maxAttempts,
		interval:    opts.PollInterval,
		logger:      logger.With(slog.String("component", "stt-poller")),
		attempts:    newInstruments().pollAttempts,
	}
}

// Poll repeats Attempt until the operation is ready. A spent budget yields
// *TimeoutError wrapping the last *NotReadyError.
func (p *Poller) Poll(ctx context.Context, operationID string) ([]string, error) {
	policy := retry.Policy{
		MaxAttempts: p.maxAttempts,
		Delay:       p.interval,
		Retryable:   func(err error) bool { return errors.Is(err, ErrNotReady) },
		Notify: func(attempt int, err error, next time.Duration) {
			p.logger.Debug("recognition not ready",
				slog.String("operation_id", operationID),
				slog.Int("attempt", attempt),
				slog.Duration("next", next),
				slogError(err))
		},
	}
	lines, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) ([]string, error) {
		return p.Attempt(ctx, operationID)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, &TimeoutError{OperationID: operationID, Attempts: exhausted.Attempts, Last: exhausted.Last}
		}
		return nil, err
	}
	return lines, nil
}

// Attempt performs one poll. Anything short of a complete 200 response is
// reported as *NotReadyError.
func (p *Poller) Attempt(ctx context.Context, operationID string) ([]string, error) {
	p.attempts.Add(ctx, 1)

	reqURL, err := url.Parse(p.url)
	if err != nil {
		return nil, fmt.Errorf("parse poll url: %w", err)
	}
	q := reqURL.Query()
	q.Set("operationId", operationID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	req.Header.Set("Authorization", p.credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &NotReadyError{OperationID: operationID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NotReadyError{OperationID: operationID, StatusCode: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, &NotReadyError{OperationID: operationID, StatusCode: resp.StatusCode, Err: err}
	}
	if p.Final != nil && !p.Final(lines) {
		return nil, &NotReadyError{OperationID: operationID, StatusCode: resp.StatusCode}
	}
	return lines, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
