package telegram

import (
	"context"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Client sends plain messages to a chat.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}

	recipient := &telebot.User{ID: recipientChatID}
	_, err := tba.bot.Send(recipient, text, options)
	return err
}

// RunReporter wraps a Notifier and sends the admin a summary of every tick that
// had work to do or failed.
type RunReporter struct {
	next    app.Notifier
	client  Client
	adminID int64
	logger  *logrus.Entry
}

func NewRunReporter(next app.Notifier, client Client, adminID int64, logger *logrus.Entry) *RunReporter {
	return &RunReporter{next: next, client: client, adminID: adminID, logger: logger}
}

var _ app.Notifier = (*RunReporter)(nil)

func (r *RunReporter) RunOnce(ctx context.Context) (*notification.Run, error) {
	run, err := r.next.RunOnce(ctx)
	if run == nil || (err == nil && run.Candidates == 0) {
		return run, err
	}
	if sendErr := r.client.SendMessage(r.adminID, formatRun(run), nil); sendErr != nil {
		r.logger.WithError(sendErr).Warn("Failed to send run summary to admin")
	}
	return run, err
}
