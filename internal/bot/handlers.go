package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Gennadynemchin/AssistantBot/internal/art"
	"github.com/Gennadynemchin/AssistantBot/internal/llm"
	"github.com/Gennadynemchin/AssistantBot/internal/tracker"
)

const (
	msgNotAllowed    = "You are not allowed to use this command."
	msgUnavailable   = "Команда недоступна"
	msgChatUpdated   = "Привет, %s! Твой chat_id успешно обновлен"
	msgUserUnknown   = "Пользователь %s не найден в базе данных"
	msgStartFailed   = "Привет, %s!\n\nПроизошла ошибка: %v"
	msgEmptyPrompt   = "Через пробел после команды напишите запрос"
	msgArtFailed     = "Не удалось сгенерировать изображение"
	msgLLMFailed     = "Не удалось получить ответ модели"
	msgCommentSent   = "Комментарий к задаче %s отправлен"
	msgCommentFailed = "Произошло досадное недоразумение. Комментарий не отправлен"
	msgNoIssueLink   = "Не удалось найти ссылку на задачу в ответе на сообщение"
)

const helpText = `Команды бота:
/start - запуск бота
/art - запрос на генерацию картинки. Через пробел от команды пишется запрос
/y - запрос на генерацию текста. Через пробел от команды пишется запрос. YandexGPT Pro`

func (h *Handlers) start(ctx context.Context, m Messenger, update *models.Update) {
	msg := update.Message
	login := username(msg)
	if h.deps.Users == nil {
		h.replyText(ctx, m, msg, fmt.Sprintf(msgUserUnknown, login))
		return
	}
	found, err := h.deps.Users.UpdateChatID(ctx, login, msg.Chat.ID)
	switch {
	case err != nil:
		h.logger.Error("chat id update failed", slog.String("user", login), slogError(err))
		h.replyText(ctx, m, msg, fmt.Sprintf(msgStartFailed, login, err))
	case found:
		h.logger.Info("chat id updated", slog.String("user", login), slog.Int64("chat_id", msg.Chat.ID))
		h.replyText(ctx, m, msg, fmt.Sprintf(msgChatUpdated, login))
	default:
		h.replyText(ctx, m, msg, fmt.Sprintf(msgUserUnknown, login))
	}
}

func (h *Handlers) help(ctx context.Context, m Messenger, update *models.Update) {
	h.replyText(ctx, m, update.Message, helpText)
}

func (h *Handlers) art(ctx context.Context, m Messenger, update *models.Update) {
	msg := update.Message
	if h.deps.Art == nil {
		h.replyText(ctx, m, msg, msgUnavailable)
		return
	}
	_, prompt := splitCommand(msg.Text)
	if prompt == "" {
		h.replyText(ctx, m, msg, msgEmptyPrompt)
		return
	}

	img, err := h.deps.Art.Generate(ctx, prompt)
	if err != nil {
		h.logger.Error("image generation failed", slog.String("user", username(msg)), slogError(err))
		if errors.Is(err, art.ErrEmptyPrompt) {
			h.replyText(ctx, m, msg, msgEmptyPrompt)
			return
		}
		h.replyText(ctx, m, msg, msgArtFailed)
		return
	}
	h.logger.Info("image generated",
		slog.String("user", username(msg)),
		slog.Int64("seed", img.Seed),
		slog.Int("bytes", len(img.Data)),
	)
	_, err = m.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:          msg.Chat.ID,
		Photo:           &models.InputFileUpload{Filename: "art" + imageExt(img.MIMEType), Data: bytes.NewReader(img.Data)},
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		h.logger.Error("send photo failed", slogError(err))
	}
}

func (h *Handlers) complete(ctx context.Context, m Messenger, update *models.Update) {
	msg := update.Message
	if h.deps.LLM == nil {
		h.replyText(ctx, m, msg, msgUnavailable)
		return
	}
	alias, prompt := splitCommand(msg.Text)
	if prompt == "" {
		h.replyText(ctx, m, msg, msgEmptyPrompt)
		return
	}
	req, err := llm.RequestFromConfig(h.deps.LLMConfig, alias, prompt)
	if err != nil {
		h.logger.Error("completion request rejected", slogError(err))
		h.replyText(ctx, m, msg, msgUnavailable)
		return
	}
	completion, err := h.deps.LLM.Generate(ctx, req)
	if err != nil {
		h.logger.Error("completion failed", slog.String("model", req.Model), slogError(err))
		h.replyText(ctx, m, msg, msgLLMFailed)
		return
	}
	h.logger.Info("completion generated",
		slog.String("user", username(msg)),
		slog.String("model", req.Model),
		slog.Int("prompt_tokens", completion.PromptTokens),
		slog.Int("completion_tokens", completion.CompletionTokens),
		slog.Duration("latency", completion.Latency),
	)
	h.replyFormatted(ctx, m, msg, completion.Text)
}

// reply turns an answer to a bot message that links a tracker issue into a
// comment on that issue.
func (h *Handlers) reply(ctx context.Context, m Messenger, update *models.Update) {
	msg := update.Message
	if h.deps.Tracker == nil || msg.Text == "" {
		return
	}
	linked := msg.ReplyToMessage.Text
	if linked == "" {
		linked = msg.ReplyToMessage.Caption
	}
	key, err := tracker.IssueKeyFromText(linked)
	if err != nil {
		h.replyText(ctx, m, msg, msgNoIssueLink)
		return
	}
	if _, err := h.deps.Tracker.CreateComment(ctx, key, username(msg), msg.Text); err != nil {
		h.logger.Error("comment failed", slog.String("issue", key), slogError(err))
		h.replyText(ctx, m, msg, msgCommentFailed)
		return
	}
	h.replyText(ctx, m, msg, fmt.Sprintf(msgCommentSent, key))
}

func (h *Handlers) replyText(ctx context.Context, m Messenger, msg *models.Message, text string) {
	_, err := m.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:          msg.Chat.ID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		h.logger.Error("send message failed", slog.Int64("chat_id", msg.Chat.ID), slogError(err))
	}
}

// replyFormatted sends model output as Markdown and retries as HTML, then as
// plain text, when Telegram refuses to parse it.
func (h *Handlers) replyFormatted(ctx context.Context, m Messenger, msg *models.Message, text string) {
	var err error
	for _, mode := range []models.ParseMode{models.ParseModeMarkdownV1, models.ParseModeHTML, ""} {
		_, err = m.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:          msg.Chat.ID,
			Text:            text,
			ParseMode:       mode,
			ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
		})
		if err == nil || !errors.Is(err, tgbot.ErrorBadRequest) {
			break
		}
		h.logger.Debug("parse mode rejected", slog.String("mode", string(mode)), slogError(err))
	}
	if err != nil {
		h.logger.Error("send message failed", slog.Int64("chat_id", msg.Chat.ID), slogError(err))
	}
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpeg"
	}
}
