package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Gennadynemchin/AssistantBot/internal/art"
	"github.com/Gennadynemchin/AssistantBot/internal/bot"
	"github.com/Gennadynemchin/AssistantBot/internal/bus"
	"github.com/Gennadynemchin/AssistantBot/internal/cache"
	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/Gennadynemchin/AssistantBot/internal/llm"
	"github.com/Gennadynemchin/AssistantBot/internal/natsserver"
	"github.com/Gennadynemchin/AssistantBot/internal/storage"
	"github.com/Gennadynemchin/AssistantBot/internal/store"
	"github.com/Gennadynemchin/AssistantBot/internal/stt"
	"github.com/Gennadynemchin/AssistantBot/internal/tracker"
)

const pruneInterval = time.Hour

type check func(context.Context) error

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool

	mu      sync.Mutex
	checks  map[string]check
	closers []func()

	store *store.Store
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]check),
	}
}

// Start brings up every configured component and blocks until ctx is done
// or one of them fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metrics, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	deps, err := r.build(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if r.cfg.Bot.Enabled {
		b, err := bot.New(r.cfg.Bot, deps, r.logger)
		if err != nil {
			return err
		}
		r.addCheck("bot", func(context.Context) error {
			if !b.Healthy() {
				return errors.New("polling stopped")
			}
			return nil
		})
		g.Go(func() error { return b.Run(ctx) })
	} else {
		r.logger.Info("telegram bot disabled")
	}

	g.Go(func() error { return r.pruneLoop(ctx) })

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))
	return g.Wait()
}

// build opens the store and constructs the backends the bot uses. In bus mode
// recognition jobs travel over NATS to the in-process worker or any other
// instance subscribed to the job subject.
func (r *Runtime) build(ctx context.Context) (bot.Deps, error) {
	cfg := r.cfg

	st, err := store.Open(ctx, cfg.Store, r.logger)
	if err != nil {
		return bot.Deps{}, fmt.Errorf("open store: %w", err)
	}
	r.store = st
	r.addCloser(func() { _ = st.Close() })
	r.addCheck("store", st.Ping)

	transcripts, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return bot.Deps{}, fmt.Errorf("open cache: %w", err)
	}
	r.addCloser(func() { _ = transcripts.Close() })

	uploader, err := storage.New(cfg.Storage, r.logger)
	if err != nil {
		return bot.Deps{}, fmt.Errorf("object storage: %w", err)
	}

	recognizer, err := stt.New(cfg.STT, uploader.BaseURL(), r.logger)
	if err != nil {
		return bot.Deps{}, fmt.Errorf("recognizer: %w", err)
	}
	if cfg.Bus.Enabled {
		if recognizer, err = r.startBus(ctx, recognizer); err != nil {
			return bot.Deps{}, err
		}
	}

	deps := bot.Deps{
		Users:      st,
		Journal:    st,
		Storage:    uploader,
		Folder:     cfg.Storage.Folder,
		Recognizer: recognizer,
		Cache:      transcripts,
		CacheTTL:   time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		LLMConfig:  cfg.LLM,
	}
	if cfg.LLM.Enabled {
		if deps.LLM, err = llm.New(ctx, cfg.LLM); err != nil {
			return bot.Deps{}, fmt.Errorf("llm: %w", err)
		}
	}
	if cfg.Art.Enabled {
		if deps.Art, err = art.New(cfg.Art, r.logger); err != nil {
			return bot.Deps{}, fmt.Errorf("art: %w", err)
		}
	}
	if cfg.Tracker.Enabled {
		deps.Tracker = tracker.NewClient(cfg.Tracker, nil, r.logger)
	}
	return deps, nil
}

func (r *Runtime) startBus(ctx context.Context, local stt.Recognizer) (stt.Recognizer, error) {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	if embedded != nil {
		r.addCloser(embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.addCloser(client.Close)
	r.addCheck("bus", func(context.Context) error {
		if !client.Healthy() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	svc := stt.NewService(ctx, client, local, time.Duration(r.cfg.STT.JobTimeoutMS)*time.Millisecond)
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("start recognition worker: %w", err)
	}
	r.addCloser(svc.Close)
	return stt.NewRemoteRecognizer(client, nil), nil
}

func (r *Runtime) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		if r.store != nil {
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("job prune failed", slog.String("error", err.Error()))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Handler serves health, readiness and, when metrics is non-nil, metrics.
func (r *Runtime) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func (r *Runtime) addCheck(name string, fn check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

func (r *Runtime) addCloser(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// shutdown releases components in reverse start order.
func (r *Runtime) shutdown() {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]check, len(names))
	for i, name := range names {
		checks[i] = r.checks[name]
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	var failed []string
	for i, name := range names {
		if err := checks[i](ctx); err != nil {
			failed = append(failed, name+": "+err.Error())
		}
	}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Join(failed, "\n")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
