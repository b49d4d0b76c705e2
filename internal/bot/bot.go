// Package bot is the Telegram front end: it routes commands, voice messages
// and replies to the recognition, completion, image and tracker backends.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/Gennadynemchin/AssistantBot/internal/art"
	"github.com/Gennadynemchin/AssistantBot/internal/cache"
	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/Gennadynemchin/AssistantBot/internal/llm"
	"github.com/Gennadynemchin/AssistantBot/internal/storage"
	"github.com/Gennadynemchin/AssistantBot/internal/store"
	"github.com/Gennadynemchin/AssistantBot/internal/stt"
	"github.com/Gennadynemchin/AssistantBot/internal/tracker"
)

// Messenger is the part of the Bot API the handlers use. *tgbot.Bot
// satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *tgbot.SendPhotoParams) (*models.Message, error)
	GetFile(ctx context.Context, params *tgbot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// Users maps telegram logins to chat ids.
type Users interface {
	UpdateChatID(ctx context.Context, telegram string, chatID int64) (bool, error)
}

// Journal records recognition jobs.
type Journal interface {
	StartJob(ctx context.Context, job store.Job) error
	FinishJob(ctx context.Context, id, status, operationID string, transcriptLen int, errText string) error
}

// Commenter posts issue comments.
type Commenter interface {
	CreateComment(ctx context.Context, issueKey, user, text string) (tracker.Comment, error)
}

// Deps are the backends the handlers talk to. Nil LLM, Art or Tracker
// disables the matching command.
type Deps struct {
	Users      Users
	Journal    Journal
	Storage    storage.Uploader
	Folder     string
	Recognizer stt.Recognizer
	Cache      cache.Cache
	CacheTTL   time.Duration
	LLM        llm.Generator
	LLMConfig  config.LLMConfig
	Art        art.Generator
	Tracker    Commenter
	// Downloader fetches voice files from the Bot API file endpoint.
	Downloader *http.Client
	NewID      func() string
}

// Handlers implements the bot commands against a Messenger.
type Handlers struct {
	deps       Deps
	allowed    map[string]struct{}
	pool       *workerpool.WorkerPool
	jobTimeout time.Duration
	logger     *slog.Logger
	inflight   atomic.Int64
}

// NewHandlers builds the handler set. maxJobs bounds concurrent voice jobs.
func NewHandlers(cfg config.BotConfig, deps Deps, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Downloader == nil {
		deps.Downloader = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		if u = strings.TrimPrefix(strings.TrimSpace(u), "@"); u != "" {
			allowed[u] = struct{}{}
		}
	}
	return &Handlers{
		deps:       deps,
		allowed:    allowed,
		pool:       workerpool.New(maxJobs),
		jobTimeout: time.Duration(cfg.JobTimeoutMS) * time.Millisecond,
		logger:     logger.With(slog.String("component", "bot")),
	}
}

// Close waits for queued voice jobs to finish.
func (h *Handlers) Close() {
	h.pool.StopWait()
}

// Pending reports the number of voice jobs queued or running.
func (h *Handlers) Pending() int64 {
	return h.inflight.Load()
}

// Bot owns the Telegram long-polling client.
type Bot struct {
	client   *tgbot.Bot
	handlers *Handlers
	logger   *slog.Logger
	running  atomic.Bool
}

// New connects to the Bot API and registers every handler. opts are passed
// through to the client, which lets tests point it at a fake server.
func New(cfg config.BotConfig, deps Deps, logger *slog.Logger, opts ...tgbot.Option) (*Bot, error) {
	h := NewHandlers(cfg, deps, logger)
	if len(h.allowed) == 0 {
		h.logger.Warn("allow list is empty, restricted commands are refused for everyone")
	}
	opts = append([]tgbot.Option{
		tgbot.WithMiddlewares(h.logUpdates),
		tgbot.WithDefaultHandler(h.ignore),
	}, opts...)
	client, err := tgbot.New(cfg.Token, opts...)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	b := &Bot{client: client, handlers: h, logger: h.logger}
	b.register()
	return b, nil
}

func (b *Bot) register() {
	h := b.handlers
	routes := []struct {
		match tgbot.MatchFunc
		fn    handlerFunc
	}{
		{isCommand("start"), h.start},
		{isCommand("help"), h.help},
		{isCommand("art"), h.restricted(h.art)},
		{isCommand("y"), h.restricted(h.complete)},
		{isCommand("q"), h.restricted(h.complete)},
		{isVoice, h.restricted(h.voice)},
		{isIssueReply, h.reply},
	}
	for _, r := range routes {
		b.client.RegisterHandlerMatchFunc(r.match, adapt(r.fn))
	}
}

// Run polls for updates until ctx is cancelled, then drains voice jobs.
func (b *Bot) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)
	b.logger.Info("bot polling started")
	b.client.Start(ctx)
	b.handlers.Close()
	b.logger.Info("bot stopped")
	return nil
}

// Healthy reports whether the polling loop is running.
func (b *Bot) Healthy() bool {
	return b.running.Load()
}

// Handlers exposes the handler set.
func (b *Bot) Handlers() *Handlers {
	return b.handlers
}

type handlerFunc func(ctx context.Context, m Messenger, update *models.Update)

func adapt(fn handlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		fn(ctx, b, update)
	}
}

func (h *Handlers) logUpdates(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if msg := update.Message; msg != nil {
			h.logger.Debug("update received",
				slog.Int64("update_id", update.ID),
				slog.Int64("chat_id", msg.Chat.ID),
				slog.String("user", username(msg)),
			)
		}
		next(ctx, b, update)
	}
}

func (h *Handlers) ignore(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update.Message != nil {
		h.logger.Debug("update ignored", slog.Int64("update_id", update.ID))
	}
}

// restricted refuses the command unless the sender is on the allow list.
func (h *Handlers) restricted(next handlerFunc) handlerFunc {
	return func(ctx context.Context, m Messenger, update *models.Update) {
		msg := update.Message
		if !h.Allowed(username(msg)) {
			h.logger.Info("command refused", slog.String("user", username(msg)))
			h.replyText(ctx, m, msg, msgNotAllowed)
			return
		}
		next(ctx, m, update)
	}
}

// Allowed reports whether login may use restricted commands.
func (h *Handlers) Allowed(login string) bool {
	if login == "" {
		return false
	}
	_, ok := h.allowed[login]
	return ok
}

// isCommand matches "/name", "/name args" and "/name@botname args".
func isCommand(name string) tgbot.MatchFunc {
	return func(update *models.Update) bool {
		msg := update.Message
		if msg == nil {
			return false
		}
		cmd, _ := splitCommand(msg.Text)
		return cmd == name
	}
}

func isVoice(update *models.Update) bool {
	return update.Message != nil && update.Message.Voice != nil
}

func isIssueReply(update *models.Update) bool {
	msg := update.Message
	if msg == nil || msg.ReplyToMessage == nil || msg.Voice != nil {
		return false
	}
	return !strings.HasPrefix(msg.Text, "/")
}

// splitCommand returns the command name without slash or bot suffix and the
// rest of the text. A message that is not a command yields "".
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head[1:], "@")
	return head, strings.TrimSpace(rest)
}

func username(msg *models.Message) string {
	if msg == nil || msg.From == nil {
		return ""
	}
	return msg.From.Username
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
