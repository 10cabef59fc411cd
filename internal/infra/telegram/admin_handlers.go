package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"
	idb "gym_subscription_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	unauthorizedReply = "Error: you are not allowed to run this command."
	listLimit         = 30
	runsLimit         = 5
)

// CustomerManager is the customer workflow exposed to the admin.
type CustomerManager interface {
	AddCustomer(ctx context.Context, in app.CustomerInput) (*customer.Customer, error)
	GetCustomer(ctx context.Context, id string) (*customer.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	RecordPayment(ctx context.Context, id string) (*customer.Customer, error)
	ListCustomers(ctx context.Context, query string) ([]*customer.Customer, error)
	ListExpired(ctx context.Context) ([]*customer.Customer, error)
}

// AdminHandlers serves the staff commands of the bot.
type AdminHandlers struct {
	ctx             context.Context
	customers       CustomerManager
	notifier        app.Notifier
	runs            notification.Repository
	adminTelegramID int64
	baseLogger      *logrus.Entry
	now             func() time.Time
}

// RegisterAdminHandlers registers handlers for admin commands.
// Only the configured admin Telegram ID may run them.
func RegisterAdminHandlers(
	ctx context.Context,
	b *telebot.Bot,
	customers CustomerManager,
	notifier app.Notifier,
	runs notification.Repository,
	adminTelegramID int64,
	baseLogger *logrus.Entry,
) *AdminHandlers {
	h := &AdminHandlers{
		ctx:             ctx,
		customers:       customers,
		notifier:        notifier,
		runs:            runs,
		adminTelegramID: adminTelegramID,
		baseLogger:      baseLogger,
		now:             time.Now,
	}
	b.Handle("/customers", h.adminOnly("/customers", h.handleListCustomers))
	b.Handle("/customer", h.adminOnly("/customer", h.handleShowCustomer))
	b.Handle("/add_customer", h.adminOnly("/add_customer", h.handleAddCustomer))
	b.Handle("/paid", h.adminOnly("/paid", h.handlePaid))
	b.Handle("/delete_customer", h.adminOnly("/delete_customer", h.handleDeleteCustomer))
	b.Handle("/expired", h.adminOnly("/expired", h.handleExpired))
	b.Handle("/notify_now", h.adminOnly("/notify_now", h.handleNotifyNow))
	b.Handle("/runs", h.adminOnly("/runs", h.handleRuns))
	return h
}

type adminHandler func(c telebot.Context, log *logrus.Entry) error

func (h *AdminHandlers) adminOnly(command string, next adminHandler) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if c.Sender() == nil {
			h.baseLogger.WithField("handler", command).Debug("Ignoring update without a sender")
			return nil
		}
		handlerLogger := h.baseLogger.WithFields(logrus.Fields{
			"handler":   command,
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != h.adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}
		return next(c, handlerLogger)
	}
}

func (h *AdminHandlers) handleListCustomers(c telebot.Context, log *logrus.Entry) error {
	query := strings.Join(c.Args(), " ")
	list, err := h.customers.ListCustomers(h.ctx, query)
	if err != nil {
		log.WithError(err).Error("Failed to list customers")
		return c.Send("Could not load customers, please try again later.")
	}
	if len(list) == 0 {
		if query != "" {
			return c.Send(fmt.Sprintf("No customers match %q.", query))
		}
		return c.Send("No customers yet. Add one with /add_customer.")
	}
	log.WithField("customers_count", len(list)).Info("Successfully retrieved customer list")
	return c.Send(formatCustomerList("Customers", list, h.now()))
}

func (h *AdminHandlers) handleShowCustomer(c telebot.Context, log *logrus.Entry) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /customer <ID>")
	}
	cu, err := h.customers.GetCustomer(h.ctx, args[0])
	if err != nil {
		return h.replyLookupError(c, log.WithField("customer_id", args[0]), err, args[0])
	}
	return c.Send(formatCustomerDetails(cu, h.now()))
}

func (h *AdminHandlers) handleAddCustomer(c telebot.Context, log *logrus.Entry) error {
	args := c.Args()
	// Expected format: /add_customer <FirstName> <Phone> [LastName]
	if len(args) < 2 || len(args) > 3 {
		log.WithField("args_count", len(args)).Warn("Invalid command format")
		return c.Send("Invalid format. Use: /add_customer <FirstName> <Phone> [LastName]")
	}
	in := app.CustomerInput{FirstName: args[0], PhoneNumber: args[1]}
	if len(args) == 3 {
		in.LastName = args[2]
	}

	cu, err := h.customers.AddCustomer(h.ctx, in)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCustomer) {
			log.WithError(err).Warn("Rejected customer input")
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		log.WithError(err).Error("Failed to add customer")
		return c.Send("Could not add the customer, please try again later.")
	}

	log.WithField("customer_id", cu.ID).Info("Customer added successfully")
	return c.Send(fmt.Sprintf("Customer %s (ID: %s, phone: %s) added. Record a payment with /paid %s", cu.FullName(), cu.ID, cu.PhoneNumber, cu.ID))
}

func (h *AdminHandlers) handlePaid(c telebot.Context, log *logrus.Entry) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /paid <ID>")
	}
	log = log.WithField("customer_id", args[0])
	cu, err := h.customers.RecordPayment(h.ctx, args[0])
	if err != nil {
		return h.replyLookupError(c, log, err, args[0])
	}
	log.Info("Payment recorded")
	return c.Send(fmt.Sprintf("Payment recorded for %s. Subscription active until %s.", cu.FullName(), formatDate(cu.SubscriptionEndDate)))
}

func (h *AdminHandlers) handleDeleteCustomer(c telebot.Context, log *logrus.Entry) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /delete_customer <ID>")
	}
	log = log.WithField("customer_id", args[0])
	if err := h.customers.DeleteCustomer(h.ctx, args[0]); err != nil {
		return h.replyLookupError(c, log, err, args[0])
	}
	log.Info("Customer deleted")
	return c.Send(fmt.Sprintf("Customer %s deleted.", args[0]))
}

func (h *AdminHandlers) handleExpired(c telebot.Context, log *logrus.Entry) error {
	list, err := h.customers.ListExpired(h.ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list expired customers")
		return c.Send("Could not load customers, please try again later.")
	}
	if len(list) == 0 {
		return c.Send("No expired subscriptions.")
	}
	return c.Send(formatCustomerList("Expired subscriptions", list, h.now()))
}

func (h *AdminHandlers) handleNotifyNow(c telebot.Context, log *logrus.Entry) error {
	run, err := h.notifier.RunOnce(h.ctx)
	if err != nil {
		log.WithError(err).Error("Manual notifier run failed")
		return c.Send("The notifier run failed: the customer directory could not be queried.")
	}
	return c.Send(formatRun(run))
}

func (h *AdminHandlers) handleRuns(c telebot.Context, log *logrus.Entry) error {
	runs, err := h.runs.ListRecentRuns(h.ctx, runsLimit)
	if err != nil {
		log.WithError(err).Error("Failed to list notifier runs")
		return c.Send("Could not load notifier runs, please try again later.")
	}
	if len(runs) == 0 {
		return c.Send("The notifier has not run yet.")
	}
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(formatRun(r))
	}
	return c.Send(b.String())
}

func (h *AdminHandlers) replyLookupError(c telebot.Context, log *logrus.Entry, err error, id string) error {
	if errors.Is(err, idb.ErrCustomerNotFound) {
		log.WithError(err).Warn("Customer not found")
		return c.Send(fmt.Sprintf("Customer with ID %s not found.", id))
	}
	log.WithError(err).Error("Customer operation failed")
	return c.Send("Something went wrong, please try again later.")
}
