// Package notify pushes operational signals to the on-call staff chat.
package notify

import (
	"fmt"

	"carechat/backend/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier sends short operational messages to a fixed staff chat.
// It is best-effort: delivery failures are logged and never propagated.
type TelegramNotifier struct {
	BotAPI *tgbotapi.BotAPI
	ChatID int64
}

// NewTelegramNotifier authorizes the bot for the given ops chat.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramNotifier{BotAPI: bot, ChatID: chatID}, nil
}

// ConsultantOnline reports that a consultant connected to the chat service.
func (n *TelegramNotifier) ConsultantOnline(userID string) {
	n.send(fmt.Sprintf("Consultant %s is online", userID))
}

// CleanupFailed reports a thread that the maintenance pass could not process.
func (n *TelegramNotifier) CleanupFailed(questionID string, err error) {
	n.send(fmt.Sprintf("Cleanup failed for question %s: %v", questionID, err))
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.ChatID, text)
	if _, err := n.BotAPI.Send(msg); err != nil {
		logger.L().Warn("telegram notification failed", zap.Error(err))
	}
}
