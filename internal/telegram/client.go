// Package telegram delivers quake notifications through the Telegram Bot API.
// Messages use MarkdownV2 and delivery is retried with a linear delay.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/quakewatch/internal/geo"
	"github.com/rewired-gh/quakewatch/internal/notify"
)

// requestTimeout bounds one Bot API call; Send takes no context.
const requestTimeout = 15 * time.Second

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// Notify sends n to the configured chat. Update batches are not forwarded.
func (c *Client) Notify(ctx context.Context, n notify.Notification) error {
	if n.Kind == notify.KindQuakesUpdated {
		return nil
	}

	msg := tgbotapi.NewMessage(c.chatID, c.formatMessage(n))
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats a notification into a Telegram message
func (c *Client) formatMessage(n notify.Notification) string {
	var b strings.Builder

	switch n.Kind {
	case notify.KindNewQuake:
		b.WriteString("🚨 *New Earthquake Detected*\n\n")
		if n.Quake == nil {
			break
		}
		q := n.Quake

		place := escapeMarkdownV2(q.Place)
		if q.URL != "" {
			// Escape the link text but not the URL
			place = fmt.Sprintf("[%s](%s)", place, q.URL)
		}
		fmt.Fprintf(&b, "*M%s* %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f", q.Magnitude)), place)
		fmt.Fprintf(&b, "📏 Depth: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f km", q.Depth)))
		if n.DistanceKm != nil {
			fmt.Fprintf(&b, "📍 Distance: %s\n", escapeMarkdownV2(geo.FormatDistance(*n.DistanceKm)))
		}
		if q.AlertLevel != "" {
			fmt.Fprintf(&b, "🔔 Alert level: %s\n", escapeMarkdownV2(q.AlertLevel))
		}
		if q.Tsunami {
			b.WriteString("🌊 *Tsunami warning issued*\n")
		}
		if !q.Time.IsZero() {
			fmt.Fprintf(&b, "⏱ %s ago \\(%s UTC\\)\n",
				escapeMarkdownV2(formatDuration(c.now().Sub(q.Time))),
				escapeMarkdownV2(q.Time.UTC().Format("2006-01-02 15:04:05")))
		}
	case notify.KindFetchFailed:
		b.WriteString("⚠️ *Feed Unavailable*\n\n")
		b.WriteString(escapeMarkdownV2(n.Error))
		b.WriteString("\n")
	case notify.KindFetchRecovered:
		b.WriteString("✅ *Feed Recovered*\n\nEarthquake data is being received again\\.\n")
	default:
		b.WriteString(escapeMarkdownV2(n.Summary()))
		b.WriteString("\n")
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
