package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Gennadynemchin/AssistantBot/internal/storage"
	"github.com/Gennadynemchin/AssistantBot/internal/store"
	"github.com/Gennadynemchin/AssistantBot/internal/stt"
)

const (
	msgVoiceEmpty    = "Не удалось распознать речь в сообщении"
	msgVoiceFailed   = "Не удалось распознать голосовое сообщение"
	msgVoiceTimeout  = "Распознавание заняло слишком много времени, попробуйте позже"
	msgVoiceDownload = "Не удалось получить голосовое сообщение"

	// maxVoiceBytes is the Bot API download limit.
	maxVoiceBytes = 20 << 20
)

// voice queues the message on the worker pool so long recognitions do not
// hold up other updates.
func (h *Handlers) voice(ctx context.Context, m Messenger, update *models.Update) {
	msg := update.Message
	h.inflight.Add(1)
	h.pool.Submit(func() {
		defer h.inflight.Add(-1)
		jobCtx := ctx
		if h.jobTimeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(ctx, h.jobTimeout)
			defer cancel()
		}
		h.transcribeVoice(jobCtx, m, msg)
	})
}

func (h *Handlers) transcribeVoice(ctx context.Context, m Messenger, msg *models.Message) {
	v := msg.Voice
	// replies go out even after the job deadline
	out := context.WithoutCancel(ctx)
	logger := h.logger.With(slog.String("user", username(msg)), slog.String("file_unique_id", v.FileUniqueID))

	if text, ok, err := h.deps.Cache.Get(ctx, v.FileUniqueID); err != nil {
		logger.Warn("transcript cache lookup failed", slogError(err))
	} else if ok {
		logger.Info("transcript served from cache")
		h.replyText(out, m, msg, text)
		return
	}

	data, err := h.download(ctx, m, v)
	if err != nil {
		logger.Error("voice download failed", slogError(err))
		h.replyText(out, m, msg, msgVoiceDownload)
		return
	}

	key := storage.VoiceKey(h.deps.Folder, v.FileUniqueID)
	obj, err := h.deps.Storage.Upload(ctx, key, data)
	if err != nil {
		logger.Error("voice upload failed", slog.String("key", key), slogError(err))
		h.replyText(out, m, msg, msgVoiceFailed)
		return
	}

	jobID := h.deps.NewID()
	h.startJob(ctx, store.Job{ID: jobID, User: username(msg), ObjectKey: obj.Key})

	res, err := h.deps.Recognizer.Transcribe(ctx, obj.Bucket, obj.Key)
	if err != nil {
		logger.Error("recognition failed", slog.String("job_id", jobID), slogError(err))
		h.finishJob(ctx, jobID, store.JobFailed, res.OperationID, 0, err.Error())
		if errors.Is(err, stt.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			h.replyText(out, m, msg, msgVoiceTimeout)
			return
		}
		h.replyText(out, m, msg, msgVoiceFailed)
		return
	}
	h.finishJob(ctx, jobID, store.JobDone, res.OperationID, len(res.Text), "")
	logger.Info("voice transcribed",
		slog.String("job_id", jobID),
		slog.String("operation_id", res.OperationID),
		slog.Int("chars", len(res.Text)),
	)

	if res.Text == "" {
		h.replyText(out, m, msg, msgVoiceEmpty)
		return
	}
	if err := h.deps.Cache.Set(ctx, v.FileUniqueID, res.Text, h.deps.CacheTTL); err != nil {
		logger.Warn("transcript cache store failed", slogError(err))
	}
	h.replyText(out, m, msg, res.Text)
}

func (h *Handlers) download(ctx context.Context, m Messenger, v *models.Voice) ([]byte, error) {
	if v.FileSize > maxVoiceBytes {
		return nil, fmt.Errorf("voice file too large: %d bytes", v.FileSize)
	}
	file, err := m.GetFile(ctx, &tgbot.GetFileParams{FileID: v.FileID})
	if err != nil {
		return nil, err
	}
	if file == nil || file.FilePath == "" {
		return nil, errors.New("file path missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.FileDownloadLink(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.deps.Downloader.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
}

func (h *Handlers) startJob(ctx context.Context, job store.Job) {
	if h.deps.Journal == nil {
		return
	}
	if err := h.deps.Journal.StartJob(ctx, job); err != nil {
		h.logger.Warn("job journal write failed", slog.String("job_id", job.ID), slogError(err))
	}
}

func (h *Handlers) finishJob(ctx context.Context, id, status, operationID string, chars int, errText string) {
	if h.deps.Journal == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := h.deps.Journal.FinishJob(ctx, id, status, operationID, chars, errText); err != nil {
		h.logger.Warn("job journal write failed", slog.String("job_id", id), slogError(err))
	}
}
