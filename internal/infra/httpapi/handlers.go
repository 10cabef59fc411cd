package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"
	"gym_subscription_notifier/internal/infra/database"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const defaultRunsLimit = 20

type handlers struct {
	customers CustomerManager
	notifier  app.Notifier
	runs      notification.Repository
	logger    *logrus.Entry
}

type customerView struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Sex                 string     `json:"sex,omitempty"`
	PhoneNumber         string     `json:"phone_number"`
	Email               string     `json:"email,omitempty"`
	Birthdate           *time.Time `json:"birthdate,omitempty"`
	Occupation          string     `json:"occupation,omitempty"`
	FitnessLevel        string     `json:"fitness_level,omitempty"`
	HealthProblems      string     `json:"health_problems,omitempty"`
	Injuries            string     `json:"injuries,omitempty"`
	Medication          string     `json:"medication,omitempty"`
	FitnessGoal         string     `json:"fitness_goal,omitempty"`
	Other               string     `json:"other,omitempty"`
	LastPaymentDate     *time.Time `json:"last_payment_date"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date"`
	Status              string     `json:"status"`
	Notified            bool       `json:"notified"`
	PendingNotification bool       `json:"pending_notification"`
	NotifyAttempts      int        `json:"notify_attempts"`
	LastNotifyError     string     `json:"last_notify_error,omitempty"`
}

type runView struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Candidates int       `json:"candidates"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

func toCustomerView(c *customer.Customer, now time.Time) customerView {
	return customerView{
		ID:                  c.ID,
		FirstName:           c.FirstName,
		LastName:            c.LastName,
		Sex:                 c.Sex,
		PhoneNumber:         c.PhoneNumber,
		Email:               c.Email,
		Birthdate:           timePtr(c.Birthdate),
		Occupation:          c.Occupation,
		FitnessLevel:        c.FitnessLevel,
		HealthProblems:      c.HealthProblems,
		Injuries:            c.Injuries,
		Medication:          c.Medication,
		FitnessGoal:         c.FitnessGoal,
		Other:               c.Other,
		LastPaymentDate:     timePtr(c.LastPaymentDate),
		SubscriptionEndDate: timePtr(c.SubscriptionEndDate),
		Status:              string(c.StatusAt(now)),
		Notified:            c.Notified,
		PendingNotification: c.DueForNotification(now),
		NotifyAttempts:      c.NotifyAttempts,
		LastNotifyError:     c.LastNotifyError.String,
	}
}

func toRunView(r *notification.Run) runView {
	return runView{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Candidates: r.Candidates,
		Sent:       r.Sent,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Error:      r.Error.String,
	}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func (h *handlers) listCustomers(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		list []*customer.Customer
		err  error
	)
	if c.QueryParam("status") == string(customer.StatusExpired) {
		list, err = h.customers.ListExpired(ctx)
	} else {
		list, err = h.customers.ListCustomers(ctx, c.QueryParam("q"))
	}
	if err != nil {
		return h.fail(c, err)
	}

	now := time.Now()
	out := make([]customerView, 0, len(list))
	for _, cu := range list {
		out = append(out, toCustomerView(cu, now))
	}
	return c.JSON(http.StatusOK, map[string]any{"customers": out})
}

func (h *handlers) createCustomer(c echo.Context) error {
	var in app.CustomerInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	cu, err := h.customers.AddCustomer(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toCustomerView(cu, time.Now()))
}

func (h *handlers) getCustomer(c echo.Context) error {
	cu, err := h.customers.GetCustomer(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toCustomerView(cu, time.Now()))
}

func (h *handlers) updateCustomer(c echo.Context) error {
	var in app.CustomerInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	cu, err := h.customers.UpdateCustomer(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toCustomerView(cu, time.Now()))
}

func (h *handlers) deleteCustomer(c echo.Context) error {
	if err := h.customers.DeleteCustomer(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) recordPayment(c echo.Context) error {
	cu, err := h.customers.RecordPayment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toCustomerView(cu, time.Now()))
}

func (h *handlers) runNotifier(c echo.Context) error {
	run, err := h.notifier.RunOnce(c.Request().Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual notifier run failed")
		body := map[string]any{"error": "notifier run failed"}
		if run != nil {
			body["run"] = toRunView(run)
		}
		return c.JSON(http.StatusBadGateway, body)
	}
	return c.JSON(http.StatusOK, toRunView(run))
}

func (h *handlers) listRuns(c echo.Context) error {
	limit := defaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100"})
		}
		limit = n
	}
	runs, err := h.runs.ListRecentRuns(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunView(r))
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": out})
}

func (h *handlers) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, database.ErrCustomerNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "customer not found"})
	case errors.Is(err, app.ErrInvalidCustomer):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.WithError(err).WithField("path", c.Path()).Error("Staff API request failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
