// Package notify reports finished runs to a Telegram chat.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wikitool/internal/model"
)

// Sender is the interface for announcing a finished run.
type Sender interface {
	RunFinished(run model.Run, summary string)
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends run notifications to one chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// RunFinished sends a short report of run. Delivery failures are logged.
func (t *Telegram) RunFinished(run model.Run, summary string) {
	msg := tgbotapi.NewMessage(t.chatID, FormatRun(run, summary))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send message", "chat_id", t.chatID, "error", err)
	}
}

// Discard drops every notification.
type Discard struct{}

// RunFinished implements Sender.
func (Discard) RunFinished(model.Run, string) {}

// FormatRun renders the notification text of a run.
func FormatRun(run model.Run, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s finished", run.Kind, run.Host)
	if run.Target != "" {
		fmt.Fprintf(&b, ": %s", run.Target)
	}
	fmt.Fprintf(&b, "\nItems: %d, failures: %d", run.Items, run.Failures)
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "\nDuration: %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if summary != "" {
		b.WriteString("\n" + summary)
	}
	fmt.Fprintf(&b, "\nRun ID: %s", run.ID)
	return b.String()
}
