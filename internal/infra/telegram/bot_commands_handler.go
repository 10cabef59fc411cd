package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterBotCommands registers /start and /help.
func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")
	b.Handle("/start", startHandler(adminTelegramID, startHelpLogger))
	b.Handle("/help", helpHandler(adminTelegramID, startHelpLogger))
}

func startHandler(adminTelegramID int64, logger *logrus.Entry) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil // Channel posts carry no sender.
		}
		senderID := c.Sender().ID
		logCtx := logger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hello %s! The gym notifier is running. Use /help for the list of commands.", c.Sender().FirstName))
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! This bot is for gym staff only.")
	}
}

func helpHandler(adminTelegramID int64, logger *logrus.Entry) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil // Channel posts carry no sender.
		}
		senderID := c.Sender().ID
		logCtx := logger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			logCtx.Info("User is unknown, sending restricted help.")
			return c.Send("No commands are available to you.")
		}
		return c.Send(adminHelpText())
	}
}

func adminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Admin commands:\n\n")
	helpText.WriteString("/customers [name]\n - List customers, optionally filtered by name.\n\n")
	helpText.WriteString("/customer <ID>\n - Show a customer's profile and subscription.\n\n")
	helpText.WriteString("/add_customer <FirstName> <Phone> [LastName]\n - Add a new customer.\n\n")
	helpText.WriteString("/paid <ID>\n - Record a payment; the subscription runs for 30 more days.\n\n")
	helpText.WriteString("/delete_customer <ID>\n - Remove a customer.\n\n")
	helpText.WriteString("/expired\n - List expired subscriptions.\n\n")
	helpText.WriteString("/notify_now\n - Text expired customers now instead of waiting for the schedule.\n\n")
	helpText.WriteString("/runs\n - Show the latest notifier runs.\n\n")
	helpText.WriteString("/help\n - Show this message.")
	return helpText.String()
}
