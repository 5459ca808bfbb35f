package router

import (
	"context"
	"fmt"
	"log/slog"

	"ashley/internal/telegram"
)

// TelegramNotifier delivers owner-facing messages to the owner's chat.
type TelegramNotifier struct {
	client *telegram.Client
	chatID string
	logger *slog.Logger
}

func NewTelegramNotifier(client *telegram.Client, chatID string, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{client: client, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) NotifyOwner(ctx context.Context, text string) error {
	if err := n.client.SendMessage(ctx, n.chatID, text); err != nil {
		return fmt.Errorf("notifier: send: %w", err)
	}
	return nil
}

// SendOwnerMessage renders an agent's answer in the owner-message envelope.
func (n *TelegramNotifier) SendOwnerMessage(ctx context.Context, agentName, question, response string) error {
	message := fmt.Sprintf("Agent: %s\nQuestion: %s\nResponse: %s", agentName, question, response)
	return n.NotifyOwner(ctx, message)
}

var _ Notifier = (*TelegramNotifier)(nil)
