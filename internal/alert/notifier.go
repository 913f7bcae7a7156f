// Package alert pushes operator notifications to the local chat gateway.
//
// Delivery is best-effort: a dead gateway must never stall or abort the
// trading loop, so failures are logged at debug and dropped.
// Deduplication and cooldowns live with the callers (internal/risk).
package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
)

// sendTimeout bounds one gateway push.
const sendTimeout = 6 * time.Second

// message is the chat gateway's expected payload.
type message struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// Notifier posts messages to the chat gateway.
type Notifier struct {
	client *resty.Client
	chatID string
	apiKey string
	logger *logrus.Entry
}

// NewNotifier creates a notifier for the configured alert channel.
func NewNotifier(cfg config.AlertConfig, logger *logrus.Logger) *Notifier {
	return &Notifier{
		client: resty.New().
			SetBaseURL(cfg.Endpoint).
			SetTimeout(sendTimeout).
			SetHeader("Content-Type", "application/json"),
		chatID: cfg.ChatID,
		apiKey: cfg.APIKey,
		logger: logger.WithField("component", "alert"),
	}
}

// Send pushes one message. Without a configured channel it is a no-op.
func (n *Notifier) Send(ctx context.Context, text string) {
	if n.chatID == "" || n.apiKey == "" {
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-API-Key", n.apiKey).
		SetBody(message{ChatID: n.chatID, Message: text}).
		Post("")
	if err != nil {
		n.logger.WithError(err).Debug("alert delivery failed")
		return
	}
	if resp.StatusCode() >= 300 {
		n.logger.WithField("status", resp.StatusCode()).Debug("alert delivery rejected")
	}
}
