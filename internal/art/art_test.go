package art

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/retry"
	"github.com/goccy/go-json"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeArtAPI struct {
	pendingPolls int32
	opError      bool
	image        []byte

	polls   atomic.Int32
	request generationRequest
}

func (f *fakeArtAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/imageGenerationAsync", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &f.request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"id":"fbv-1","done":false}`)
	})
	mux.HandleFunc("/operations/fbv-1", func(w http.ResponseWriter, r *http.Request) {
		if f.polls.Add(1) <= f.pendingPolls {
			_, _ = io.WriteString(w, `{"id":"fbv-1","done":false}`)
			return
		}
		if f.opError {
			_, _ = io.WriteString(w, `{"id":"fbv-1","done":true,"error":{"code":3,"message":"prompt rejected"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"fbv-1","done":true,"response":{"image":"`+base64.StdEncoding.EncodeToString(f.image)+`","modelVersion":"1"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testGenerator(srv *httptest.Server, attempts int) Generator {
	return NewYandexGenerator(Options{
		Endpoint:           srv.URL + "/imageGenerationAsync",
		OperationsEndpoint: srv.URL + "/operations",
		FolderID:           "b1g",
		Credential:         "Api-Key k",
		MaxAttempts:        attempts,
		PollInterval:       time.Millisecond,
		HTTPClient:         srv.Client(),
		Seed:               func() int64 { return 42 },
	}, newLogger())
}

func TestYandexGenerate(t *testing.T) {
	png, err := NewMockGenerator().Generate(context.Background(), "sheltie")
	if err != nil {
		t.Fatalf("mock image: %v", err)
	}
	api := &fakeArtAPI{pendingPolls: 2, image: png.Data}
	img, err := testGenerator(api.server(t), 10).Generate(context.Background(), "a red sheltie")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if api.polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", api.polls.Load())
	}
	if img.MIMEType != "image/png" || len(img.Data) != len(png.Data) {
		t.Fatalf("unexpected image %s (%d bytes)", img.MIMEType, len(img.Data))
	}
	if img.Seed != 42 || img.OperationID != "fbv-1" {
		t.Fatalf("unexpected metadata %+v", img)
	}
	if api.request.ModelURI != "art://b1g/yandex-art/latest" {
		t.Fatalf("unexpected model uri %q", api.request.ModelURI)
	}
	ratio := api.request.GenerationOptions.AspectRatio
	if ratio.WidthRatio != 1 || ratio.HeightRatio != 2 || api.request.GenerationOptions.Seed != 42 {
		t.Fatalf("unexpected options %+v", api.request.GenerationOptions)
	}
}

func TestYandexGenerateOperationError(t *testing.T) {
	api := &fakeArtAPI{opError: true}
	_, err := testGenerator(api.server(t), 5).Generate(context.Background(), "x")
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Message != "prompt rejected" {
		t.Fatalf("expected OperationError, got %v", err)
	}
}

func TestYandexGenerateGivesUp(t *testing.T) {
	api := &fakeArtAPI{pendingPolls: 100}
	_, err := testGenerator(api.server(t), 3).Generate(context.Background(), "x")
	if !errors.Is(err, retry.ErrExhausted) || !errors.Is(err, ErrPending) {
		t.Fatalf("expected exhausted pending error, got %v", err)
	}
	if api.polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", api.polls.Load())
	}
}

func TestEmptyPrompt(t *testing.T) {
	if _, err := NewMockGenerator().Generate(context.Background(), "  "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestRandomSeedNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		if RandomSeed() < 0 {
			t.Fatal("seed must fit in 63 bits")
		}
	}
}
