// Package notify sends pipeline run reports to an operator over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/geongi-im/card-news-generator/pipeline"
)

// Telegram limits photo captions to 1024 characters.
const maxPhotoCaption = 1024

// Sender delivers messages and photos to a Telegram chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, path, caption string) (int64, error)
}

// Notifier reports runs to one chat.
type Notifier struct {
	sender Sender
	chatID int64
}

// NewNotifier creates a notifier for chatID.
func NewNotifier(sender Sender, chatID int64) *Notifier {
	return &Notifier{sender: sender, chatID: chatID}
}

// NotifyRun sends every rendered card as a photo followed by a run
// summary. A failed photo does not stop the rest.
func (n *Notifier) NotifyRun(ctx context.Context, report *pipeline.Report) error {
	var errs []error
	for _, card := range report.Cards() {
		if _, err := n.sender.SendPhoto(ctx, n.chatID, card.Path, FormatCardCaption(card)); err != nil {
			slog.Warn("failed to send card photo", "number", card.Number, "error", err)
			errs = append(errs, fmt.Errorf("send card %d: %w", card.Number, err))
		}
	}

	if _, err := n.sender.SendMessage(ctx, n.chatID, FormatReport(report), true); err != nil {
		errs = append(errs, fmt.Errorf("send report: %w", err))
	}
	return errors.Join(errs...)
}

// FormatCardCaption formats a card for a Telegram photo caption.
func FormatCardCaption(card *pipeline.Card) string {
	caption := fmt.Sprintf("<b>%d. %s</b>\n\n%s\n\n%s",
		card.Number,
		html.EscapeString(card.Analysis.Title),
		html.EscapeString(card.Analysis.Content),
		html.EscapeString(card.Analysis.Hashtag),
	)
	if card.News.URL != "" {
		caption += fmt.Sprintf("\n\n<a href=\"%s\">원문</a>", html.EscapeString(card.News.URL))
	}
	if utf8.RuneCountInString(caption) > maxPhotoCaption {
		// a cut could split an HTML tag, so send plain text
		plain := fmt.Sprintf("%d. %s\n\n%s", card.Number, card.Analysis.Title, card.Analysis.Content)
		caption = html.EscapeString(truncateRunes(plain, maxPhotoCaption-10))
	}
	return caption
}

// FormatReport formats a run summary as Telegram HTML.
func FormatReport(report *pipeline.Report) string {
	var sb strings.Builder

	status := report.Status()
	fmt.Fprintf(&sb, "%s <b>카드뉴스 실행 %s</b>\n", statusIcon(status), html.EscapeString(status))
	fmt.Fprintf(&sb, "🔎 %s\n", html.EscapeString(report.Query))
	fmt.Fprintf(&sb, "🆔 <code>%s</code>\n\n", html.EscapeString(report.RunID))

	if report.SearchErr != nil {
		fmt.Fprintf(&sb, "❌ search: %s\n", html.EscapeString(report.SearchErr.Error()))
		return sb.String()
	}

	fmt.Fprintf(&sb, "found %d · skipped %d · cards %d · failed %d\n",
		report.Found, report.Skipped, len(report.Cards()), report.Failures())

	for _, item := range report.Items {
		if item.Err == nil {
			continue
		}
		fmt.Fprintf(&sb, "❌ #%d %s: %s\n", item.Number, item.Stage, html.EscapeString(item.Err.Error()))
	}

	if report.PostMode == pipeline.PostModeNone {
		sb.WriteString("📭 publishing disabled\n")
	}
	for _, post := range report.Posts {
		numbers := joinInts(post.Numbers)
		if post.Err != nil {
			fmt.Fprintf(&sb, "❌ post [%s]: %s\n", numbers, html.EscapeString(post.Err.Error()))
			continue
		}
		fmt.Fprintf(&sb, "✅ post [%s]: <code>%s</code>\n", numbers, html.EscapeString(post.Result.PostID))
	}

	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "\n⏱ %s", report.FinishedAt.Sub(report.StartedAt).Round(100*time.Millisecond))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func statusIcon(status string) string {
	switch status {
	case pipeline.StatusSuccess:
		return "✅"
	case pipeline.StatusPartial:
		return "⚠️"
	default:
		return "❌"
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// TelegramSender implements Sender with the Bot API.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender connects to the Bot API with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	return newTelegramSender(token, tgbotapi.APIEndpoint)
}

func newTelegramSender(token, endpoint string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// SendMessage sends text, parsed as HTML when html is set.
func (s *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	msg.DisableWebPagePreview = true

	sent, err := s.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}

// SendPhoto uploads the image at path with an HTML caption.
func (s *TelegramSender) SendPhoto(ctx context.Context, chatID int64, path, caption string) (int64, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML

	sent, err := s.bot.Send(photo)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}
