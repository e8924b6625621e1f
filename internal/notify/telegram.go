// Package notify sends decision summaries to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	aurum "github.com/dyike/AurumGo/internal/models"
)

var ErrDisabled = errors.New("notify: telegram not configured")

// Sender is the part of the bot API used here.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Telegram struct {
	sender Sender
	chatID any
	log    zerolog.Logger
}

// NewTelegram returns ErrDisabled when token or chat is empty. Numeric chat
// ids are sent as numbers, anything else (e.g. "@channel") as a string.
func NewTelegram(token, chat string, log zerolog.Logger, opts ...bot.Option) (*Telegram, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(chat) == "" {
		return nil, ErrDisabled
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramWithSender(b, chat, log), nil
}

func NewTelegramWithSender(sender Sender, chat string, log zerolog.Logger) *Telegram {
	var chatID any = chat
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		chatID = id
	}
	return &Telegram{
		sender: sender,
		chatID: chatID,
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

// Notify sends the summary of a successful record. Failed records are not
// sent.
func (t *Telegram) Notify(ctx context.Context, rec *aurum.AnalysisRecord, path string) error {
	if rec == nil || rec.Status != aurum.StatusSuccess {
		return nil
	}
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   Format(rec),
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	t.log.Debug().Str("tool", rec.Tool).Str("path", path).Msg("notification sent")
	return nil
}

// Format renders the plain-text decision summary.
func Format(rec *aurum.AnalysisRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gold analysis (%s, %s)\n", rec.Source, rec.Timestamp.UTC().Format("2006-01-02 15:04 UTC"))
	if rec.SpotPrice != nil {
		fmt.Fprintf(&b, "Spot: $%.2f", *rec.SpotPrice)
		if rec.Changes.DailyPct != nil {
			fmt.Fprintf(&b, " (%+.2f%%)", *rec.Changes.DailyPct)
		}
		b.WriteString("\n")
	}
	if rec.Technicals.Trend != "" {
		fmt.Fprintf(&b, "Trend: %s\n", rec.Technicals.Trend)
	}

	action := rec.Decision.Action
	if action == "" {
		action = "n/a"
	}
	fmt.Fprintf(&b, "Decision: %s", strings.ToUpper(action))
	if rec.Decision.Confidence != nil {
		fmt.Fprintf(&b, " (%d%%)", *rec.Decision.Confidence)
	}
	b.WriteString("\n")
	if rec.Consensus != nil {
		fmt.Fprintf(&b, "Consensus: %s\n", *rec.Consensus)
	}
	if rec.Decision.Reasoning != "" {
		fmt.Fprintf(&b, "%s\n", rec.Decision.Reasoning)
	}
	for i, n := range rec.News {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "- %s", n.Headline)
		if n.Source != "" {
			fmt.Fprintf(&b, " (%s)", n.Source)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
