package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Gennadynemchin/AssistantBot/internal/art"
	"github.com/Gennadynemchin/AssistantBot/internal/cache"
	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/Gennadynemchin/AssistantBot/internal/llm"
	"github.com/Gennadynemchin/AssistantBot/internal/storage"
	"github.com/Gennadynemchin/AssistantBot/internal/store"
	"github.com/Gennadynemchin/AssistantBot/internal/stt"
	"github.com/Gennadynemchin/AssistantBot/internal/tracker"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sent struct {
	Text      string
	ParseMode models.ParseMode
	Photo     bool
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sent
	fileURL  string
	rejectMD bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, p *tgbot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Text: p.Text, ParseMode: p.ParseMode})
	if f.rejectMD && p.ParseMode == models.ParseModeMarkdownV1 {
		return nil, fmt.Errorf("%w, can't parse entities", tgbot.ErrorBadRequest)
	}
	return &models.Message{}, nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, p *tgbot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Photo: true})
	return &models.Message{}, nil
}

func (f *fakeMessenger) GetFile(_ context.Context, p *tgbot.GetFileParams) (*models.File, error) {
	return &models.File{FileID: p.FileID, FilePath: "voice/" + p.FileID + ".oga"}, nil
}

func (f *fakeMessenger) FileDownloadLink(file *models.File) string {
	return f.fileURL + "/" + file.FilePath
}

func (f *fakeMessenger) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeMessenger) lastText(t *testing.T) string {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatal("nothing was sent")
	}
	return msgs[len(msgs)-1].Text
}

type fakeUsers struct {
	found bool
	err   error
	got   int64
}

func (f *fakeUsers) UpdateChatID(_ context.Context, _ string, chatID int64) (bool, error) {
	f.got = chatID
	return f.found, f.err
}

type fakeJournal struct {
	mu      sync.Mutex
	started []store.Job
	status  map[string]string
}

func (f *fakeJournal) StartJob(_ context.Context, job store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, job)
	return nil
}

func (f *fakeJournal) FinishJob(_ context.Context, id, status, _ string, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = map[string]string{}
	}
	f.status[id] = status
	return nil
}

type fakeRecognizer struct {
	mu    sync.Mutex
	keys  []string
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Transcribe(_ context.Context, bucket, key string) (stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, bucket+"/"+key)
	if f.err != nil {
		return stt.Result{OperationID: "op-1"}, f.err
	}
	return stt.Result{OperationID: "op-1", Text: f.text}, nil
}

type fakeCommenter struct {
	issue string
	user  string
	err   error
}

func (f *fakeCommenter) CreateComment(_ context.Context, issueKey, user, _ string) (tracker.Comment, error) {
	f.issue, f.user = issueKey, user
	return tracker.Comment{}, f.err
}

func textUpdate(user, text string) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   10,
			From: &models.User{Username: user},
			Chat: models.Chat{ID: 42},
			Text: text,
		},
	}
}

func voiceUpdate(user, uniqueID string) *models.Update {
	u := textUpdate(user, "")
	u.Message.Voice = &models.Voice{FileID: "file-" + uniqueID, FileUniqueID: uniqueID, FileSize: 3}
	return u
}

func newHandlers(deps Deps) *Handlers {
	return NewHandlers(config.BotConfig{AllowedUsers: []string{"alice", "@carol"}, MaxConcurrentJobs: 2, JobTimeoutMS: 5000}, deps, newLogger())
}

func voiceFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OggS"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text, cmd, rest string
	}{
		{"/y hello there", "y", "hello there"},
		{"/art@assistant_bot  кот в сапогах ", "art", "кот в сапогах"},
		{"/start", "start", ""},
		{"hello /y", "", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		cmd, rest := splitCommand(tc.text)
		if cmd != tc.cmd || rest != tc.rest {
			t.Fatalf("splitCommand(%q) = %q, %q; want %q, %q", tc.text, cmd, rest, tc.cmd, tc.rest)
		}
	}
}

func TestMatchersAreExclusive(t *testing.T) {
	reply := textUpdate("alice", "looks good")
	reply.Message.ReplyToMessage = &models.Message{Text: "https://tracker.yandex.ru/TEST-1"}
	voice := voiceUpdate("alice", "u1")
	voice.Message.ReplyToMessage = &models.Message{Text: "x"}

	if !isIssueReply(reply) || isVoice(reply) || isCommand("y")(reply) {
		t.Fatal("reply matched wrongly")
	}
	if !isVoice(voice) || isIssueReply(voice) {
		t.Fatal("voice reply must route to the voice handler only")
	}
	cmd := textUpdate("alice", "/y hi")
	cmd.Message.ReplyToMessage = &models.Message{Text: "x"}
	if isIssueReply(cmd) || !isCommand("y")(cmd) || isCommand("q")(cmd) {
		t.Fatal("command matched wrongly")
	}
}

func TestRestrictedRefusesUnknownUsers(t *testing.T) {
	h := newHandlers(Deps{LLM: llm.NewMockGenerator(), LLMConfig: config.Default().LLM})
	defer h.Close()
	m := &fakeMessenger{}

	h.restricted(h.complete)(context.Background(), m, textUpdate("bob", "/y hi"))
	if got := m.lastText(t); got != msgNotAllowed {
		t.Fatalf("unexpected reply %q", got)
	}
	h.restricted(h.complete)(context.Background(), m, textUpdate("", "/y hi"))
	if got := m.lastText(t); got != msgNotAllowed {
		t.Fatalf("user without login must be refused, got %q", got)
	}
	if !h.Allowed("carol") {
		t.Fatal("leading @ in the allow list should be ignored")
	}
}

func TestStartUpdatesChatID(t *testing.T) {
	cases := []struct {
		name  string
		users *fakeUsers
		want  string
	}{
		{"found", &fakeUsers{found: true}, "Привет, alice! Твой chat_id успешно обновлен"},
		{"missing", &fakeUsers{}, "Пользователь alice не найден в базе данных"},
		{"error", &fakeUsers{err: errors.New("db down")}, "Привет, alice!\n\nПроизошла ошибка: db down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandlers(Deps{Users: tc.users})
			defer h.Close()
			m := &fakeMessenger{}
			h.start(context.Background(), m, textUpdate("alice", "/start"))
			if got := m.lastText(t); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			if tc.users.got != 42 {
				t.Fatalf("chat id not passed: %d", tc.users.got)
			}
		})
	}
}

func TestHelpListsCommands(t *testing.T) {
	h := newHandlers(Deps{})
	defer h.Close()
	m := &fakeMessenger{}
	h.help(context.Background(), m, textUpdate("bob", "/help"))
	got := m.lastText(t)
	for _, cmd := range []string{"/start", "/art", "/y"} {
		if !strings.Contains(got, cmd) {
			t.Fatalf("help misses %s: %q", cmd, got)
		}
	}
}

func TestVoiceUploadsAndReplies(t *testing.T) {
	srv := voiceFileServer(t)
	uploader := storage.NewMemoryUploader("voices")
	rec := &fakeRecognizer{text: "привет мир"}
	journal := &fakeJournal{}
	memo := cache.NewMemory()
	h := newHandlers(Deps{
		Storage:    uploader,
		Folder:     "inbox",
		Recognizer: rec,
		Journal:    journal,
		Cache:      memo,
		CacheTTL:   time.Minute,
		NewID:      func() string { return "job-1" },
	})
	m := &fakeMessenger{fileURL: srv.URL}

	h.voice(context.Background(), m, voiceUpdate("alice", "AgAD"))
	h.Close()

	if got := m.lastText(t); got != "привет мир" {
		t.Fatalf("unexpected reply %q", got)
	}
	if data, ok := uploader.Get("inbox/AgAD.ogg"); !ok || string(data) != "OggS" {
		t.Fatalf("voice not uploaded: %q %v", data, ok)
	}
	if len(rec.keys) != 1 || rec.keys[0] != "voices/inbox/AgAD.ogg" {
		t.Fatalf("unexpected recognizer input %v", rec.keys)
	}
	if journal.status["job-1"] != store.JobDone {
		t.Fatalf("job not journaled as done: %v", journal.status)
	}
	if text, ok, _ := memo.Get(context.Background(), "AgAD"); !ok || text != "привет мир" {
		t.Fatalf("transcript not cached: %q %v", text, ok)
	}
	if h.Pending() != 0 {
		t.Fatalf("pending jobs left: %d", h.Pending())
	}
}

func TestVoiceServedFromCache(t *testing.T) {
	memo := cache.NewMemory()
	_ = memo.Set(context.Background(), "AgAD", "cached text", time.Minute)
	rec := &fakeRecognizer{text: "fresh"}
	h := newHandlers(Deps{Storage: storage.NewMemoryUploader("voices"), Recognizer: rec, Cache: memo})
	m := &fakeMessenger{}

	h.voice(context.Background(), m, voiceUpdate("alice", "AgAD"))
	h.Close()

	if got := m.lastText(t); got != "cached text" {
		t.Fatalf("unexpected reply %q", got)
	}
	if rec.calls != 0 {
		t.Fatalf("recognizer called %d times", rec.calls)
	}
}

func TestVoiceFailureReplies(t *testing.T) {
	cases := []struct {
		name string
		rec  *fakeRecognizer
		want string
	}{
		{"timeout", &fakeRecognizer{err: &stt.TimeoutError{OperationID: "op-1", Attempts: 50}}, msgVoiceTimeout},
		{"rejected", &fakeRecognizer{err: &stt.SubmissionError{StatusCode: 403}}, msgVoiceFailed},
		{"silence", &fakeRecognizer{}, msgVoiceEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := voiceFileServer(t)
			journal := &fakeJournal{}
			h := newHandlers(Deps{
				Storage:    storage.NewMemoryUploader("voices"),
				Recognizer: tc.rec,
				Journal:    journal,
				NewID:      func() string { return "job-1" },
			})
			m := &fakeMessenger{fileURL: srv.URL}
			h.voice(context.Background(), m, voiceUpdate("alice", "AgAD"))
			h.Close()

			if got := m.lastText(t); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			wantStatus := store.JobFailed
			if tc.rec.err == nil {
				wantStatus = store.JobDone
			}
			if journal.status["job-1"] != wantStatus {
				t.Fatalf("job status %q want %q", journal.status["job-1"], wantStatus)
			}
		})
	}
}

func TestVoiceDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	rec := &fakeRecognizer{text: "x"}
	h := newHandlers(Deps{Storage: storage.NewMemoryUploader("voices"), Recognizer: rec})
	m := &fakeMessenger{fileURL: srv.URL}

	h.voice(context.Background(), m, voiceUpdate("alice", "AgAD"))
	h.Close()

	if got := m.lastText(t); got != msgVoiceDownload {
		t.Fatalf("unexpected reply %q", got)
	}
	if rec.calls != 0 {
		t.Fatal("recognizer must not run without audio")
	}
}

func TestCompleteFallsBackToHTML(t *testing.T) {
	h := newHandlers(Deps{LLM: llm.NewMockGenerator(), LLMConfig: config.Default().LLM})
	defer h.Close()
	m := &fakeMessenger{rejectMD: true}

	h.complete(context.Background(), m, textUpdate("alice", "/y расскажи *анекдот"))

	msgs := m.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected markdown then html attempt, got %+v", msgs)
	}
	if msgs[0].ParseMode != models.ParseModeMarkdownV1 || msgs[1].ParseMode != models.ParseModeHTML {
		t.Fatalf("unexpected parse modes %+v", msgs)
	}
	if !strings.Contains(msgs[1].Text, "расскажи *анекдот") {
		t.Fatalf("completion text lost: %q", msgs[1].Text)
	}
}

func TestCompleteRequiresPrompt(t *testing.T) {
	h := newHandlers(Deps{LLM: llm.NewMockGenerator(), LLMConfig: config.Default().LLM})
	defer h.Close()
	m := &fakeMessenger{}
	h.complete(context.Background(), m, textUpdate("alice", "/q"))
	if got := m.lastText(t); got != msgEmptyPrompt {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestArtSendsPhoto(t *testing.T) {
	h := newHandlers(Deps{Art: art.NewMockGenerator()})
	defer h.Close()
	m := &fakeMessenger{}
	h.art(context.Background(), m, textUpdate("alice", "/art рыжий кот"))
	msgs := m.messages()
	if len(msgs) != 1 || !msgs[0].Photo {
		t.Fatalf("expected one photo, got %+v", msgs)
	}
}

func TestDisabledCommands(t *testing.T) {
	h := newHandlers(Deps{})
	defer h.Close()
	m := &fakeMessenger{}
	h.art(context.Background(), m, textUpdate("alice", "/art кот"))
	h.complete(context.Background(), m, textUpdate("alice", "/y привет"))
	for _, s := range m.messages() {
		if s.Text != msgUnavailable {
			t.Fatalf("unexpected reply %q", s.Text)
		}
	}
}

func TestReplyCreatesComment(t *testing.T) {
	commenter := &fakeCommenter{}
	h := newHandlers(Deps{Tracker: commenter})
	defer h.Close()
	m := &fakeMessenger{}
	u := textUpdate("bob", "готово")
	u.Message.ReplyToMessage = &models.Message{Text: "Новая задача https://tracker.yandex.ru/TEST-7"}

	h.reply(context.Background(), m, u)

	if commenter.issue != "TEST-7" || commenter.user != "bob" {
		t.Fatalf("unexpected comment target %q by %q", commenter.issue, commenter.user)
	}
	if got := m.lastText(t); got != "Комментарий к задаче TEST-7 отправлен" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestReplyErrors(t *testing.T) {
	m := &fakeMessenger{}
	h := newHandlers(Deps{Tracker: &fakeCommenter{}})
	defer h.Close()
	u := textUpdate("bob", "готово")
	u.Message.ReplyToMessage = &models.Message{Text: "no link here"}
	h.reply(context.Background(), m, u)
	if got := m.lastText(t); got != msgNoIssueLink {
		t.Fatalf("unexpected reply %q", got)
	}

	failing := newHandlers(Deps{Tracker: &fakeCommenter{err: &tracker.APIError{StatusCode: 403}}})
	defer failing.Close()
	u.Message.ReplyToMessage = &models.Message{Text: "https://tracker.yandex.ru/TEST-1"}
	failing.reply(context.Background(), m, u)
	if got := m.lastText(t); got != msgCommentFailed {
		t.Fatalf("unexpected reply %q", got)
	}
}
