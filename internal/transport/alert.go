package transport

import (
	"context"
	"os"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
)

// SlackAlerter posts run notices to a Slack channel.
type SlackAlerter struct {
	client  *slack.Client
	channel string
}

func NewSlackAlerter(botToken, channel string) *SlackAlerter {
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	return &SlackAlerter{
		client:  slack.New(botToken),
		channel: channel,
	}
}

func (s *SlackAlerter) Name() string {
	return "slack"
}

func (s *SlackAlerter) Alert(ctx context.Context, message string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(message, false))
	if err != nil {
		return kerrors.Wrap(err, "failed to send Slack alert")
	}
	return nil
}

// TelegramAlerter sends run notices to a Telegram chat.
type TelegramAlerter struct {
	token  string
	chatID int64
	bot    *tgbotapi.BotAPI
}

func NewTelegramAlerter(token string, chatID int64) *TelegramAlerter {
	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	return &TelegramAlerter{token: token, chatID: chatID}
}

func (t *TelegramAlerter) Name() string {
	return "telegram"
}

func (t *TelegramAlerter) Alert(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.bot == nil {
		bot, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			return kerrors.Wrap(err, "failed to init telegram bot")
		}
		t.bot = bot
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
		return kerrors.Wrap(err, "failed to send Telegram alert")
	}
	return nil
}

// MockAlerter records alerts for tests.
type MockAlerter struct {
	Messages []string
}

func (m *MockAlerter) Name() string {
	return "mock"
}

func (m *MockAlerter) Alert(ctx context.Context, message string) error {
	m.Messages = append(m.Messages, message)
	return nil
}
