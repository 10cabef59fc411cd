package telegram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"
	idb "gym_subscription_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

const adminID int64 = 42

var fixedNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

// fakeContext implements the handful of telebot.Context methods the handlers use.
type fakeContext struct {
	telebot.Context
	sender *telebot.User
	args   []string
	sent   []string
}

func (f *fakeContext) Sender() *telebot.User { return f.sender }
func (f *fakeContext) Args() []string        { return f.args }
func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	return nil
}

func (f *fakeContext) reply() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type stubManager struct {
	customers map[string]*customer.Customer
	listErr   error
	added     []app.CustomerInput
}

func (m *stubManager) AddCustomer(_ context.Context, in app.CustomerInput) (*customer.Customer, error) {
	if in.FirstName == "" {
		return nil, fmt.Errorf("%w: first name is required", app.ErrInvalidCustomer)
	}
	m.added = append(m.added, in)
	return &customer.Customer{ID: "01NEW", FirstName: in.FirstName, LastName: in.LastName, PhoneNumber: "+357" + in.PhoneNumber}, nil
}

func (m *stubManager) GetCustomer(_ context.Context, id string) (*customer.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, idb.ErrCustomerNotFound
	}
	return c, nil
}

func (m *stubManager) DeleteCustomer(_ context.Context, id string) error {
	if _, ok := m.customers[id]; !ok {
		return idb.ErrCustomerNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *stubManager) RecordPayment(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := m.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ApplyPayment(fixedNow)
	return c, nil
}

func (m *stubManager) ListCustomers(context.Context, string) ([]*customer.Customer, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*customer.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, nil
}

func (m *stubManager) ListExpired(ctx context.Context) ([]*customer.Customer, error) {
	all, err := m.ListCustomers(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*customer.Customer, 0)
	for _, c := range all {
		if c.StatusAt(fixedNow) == customer.StatusExpired {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubNotifier struct {
	run   *notification.Run
	err   error
	calls int
}

func (n *stubNotifier) RunOnce(context.Context) (*notification.Run, error) {
	n.calls++
	return n.run, n.err
}

type stubRuns struct{ runs []*notification.Run }

func (r *stubRuns) CreateRun(context.Context, *notification.Run) error { return nil }
func (r *stubRuns) ListRecentRuns(context.Context, int) ([]*notification.Run, error) {
	return r.runs, nil
}

func newTestHandlers() (*AdminHandlers, *stubManager, *stubNotifier) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	m := &stubManager{customers: map[string]*customer.Customer{
		"01A": {
			ID:                  "01A",
			FirstName:           "Anna",
			LastName:            "Kyriakou",
			PhoneNumber:         "+35799000001",
			SubscriptionEndDate: sql.NullTime{Time: fixedNow.AddDate(0, 0, -2), Valid: true},
			Notified:            true,
		},
	}}
	n := &stubNotifier{run: &notification.Run{ID: "run-1", StartedAt: fixedNow, Candidates: 2, Sent: 1, Failed: 1}}
	h := &AdminHandlers{
		ctx:             context.Background(),
		customers:       m,
		notifier:        n,
		runs:            &stubRuns{},
		adminTelegramID: adminID,
		baseLogger:      logrus.NewEntry(l),
		now:             func() time.Time { return fixedNow },
	}
	return h, m, n
}

func call(h *AdminHandlers, command string, fn adminHandler, sender int64, args ...string) *fakeContext {
	c := &fakeContext{sender: &telebot.User{ID: sender, FirstName: "Staff"}, args: args}
	_ = h.adminOnly(command, fn)(c)
	return c
}

func TestAdminOnlyRejectsOtherUsers(t *testing.T) {
	h, _, n := newTestHandlers()

	c := call(h, "/notify_now", h.handleNotifyNow, 7)
	assert.Equal(t, unauthorizedReply, c.reply())
	assert.Zero(t, n.calls)
}

func TestHandleAddCustomer(t *testing.T) {
	h, m, _ := newTestHandlers()

	c := call(h, "/add_customer", h.handleAddCustomer, adminID, "Maria", "99123456", "Georgiou")
	assert.Contains(t, c.reply(), "Maria Georgiou")
	assert.Contains(t, c.reply(), "/paid 01NEW")
	require.Len(t, m.added, 1)
	assert.Equal(t, "Georgiou", m.added[0].LastName)

	c = call(h, "/add_customer", h.handleAddCustomer, adminID, "OnlyName")
	assert.Contains(t, c.reply(), "Invalid format")
}

func TestHandlePaid(t *testing.T) {
	h, m, _ := newTestHandlers()

	c := call(h, "/paid", h.handlePaid, adminID, "01A")
	assert.Contains(t, c.reply(), "Payment recorded for Anna Kyriakou")
	assert.Contains(t, c.reply(), "09 Apr 2025")
	assert.False(t, m.customers["01A"].Notified)

	c = call(h, "/paid", h.handlePaid, adminID, "nope")
	assert.Equal(t, "Customer with ID nope not found.", c.reply())
}

func TestHandleShowAndDeleteCustomer(t *testing.T) {
	h, _, _ := newTestHandlers()

	c := call(h, "/customer", h.handleShowCustomer, adminID, "01A")
	assert.Contains(t, c.reply(), "Status: expired, notified")
	assert.Contains(t, c.reply(), "Phone: +35799000001")

	c = call(h, "/delete_customer", h.handleDeleteCustomer, adminID, "01A")
	assert.Equal(t, "Customer 01A deleted.", c.reply())

	c = call(h, "/customer", h.handleShowCustomer, adminID, "01A")
	assert.Contains(t, c.reply(), "not found")
}

func TestHandleListCustomersAndExpired(t *testing.T) {
	h, m, _ := newTestHandlers()

	c := call(h, "/customers", h.handleListCustomers, adminID)
	assert.Contains(t, c.reply(), "--- Customers (1) ---")
	assert.Contains(t, c.reply(), "01A | Anna Kyriakou | until 08 Mar 2025 | expired, notified")

	c = call(h, "/expired", h.handleExpired, adminID)
	assert.Contains(t, c.reply(), "Expired subscriptions (1)")

	m.listErr = errors.New("db down")
	c = call(h, "/customers", h.handleListCustomers, adminID, "ann")
	assert.Contains(t, c.reply(), "Could not load customers")
}

func TestHandleNotifyNow(t *testing.T) {
	h, _, n := newTestHandlers()

	c := call(h, "/notify_now", h.handleNotifyNow, adminID)
	assert.Equal(t, 1, n.calls)
	assert.Contains(t, c.reply(), "Candidates: 2, sent: 1, failed: 1, no phone: 0")

	n.err = errors.New("query failed")
	c = call(h, "/notify_now", h.handleNotifyNow, adminID)
	assert.Contains(t, c.reply(), "failed")
}

func TestHandleRunsEmpty(t *testing.T) {
	h, _, _ := newTestHandlers()
	c := call(h, "/runs", h.handleRuns, adminID)
	assert.Equal(t, "The notifier has not run yet.", c.reply())
}

func TestStartAndHelp(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	logger := logrus.NewEntry(l)

	admin := &fakeContext{sender: &telebot.User{ID: adminID, FirstName: "Eleni"}}
	require.NoError(t, startHandler(adminID, logger)(admin))
	assert.Contains(t, admin.reply(), "Hello Eleni")
	require.NoError(t, helpHandler(adminID, logger)(admin))
	assert.Contains(t, admin.reply(), "/notify_now")

	stranger := &fakeContext{sender: &telebot.User{ID: 1}}
	require.NoError(t, helpHandler(adminID, logger)(stranger))
	assert.Equal(t, "No commands are available to you.", stranger.reply())

	channelPost := &fakeContext{}
	require.NoError(t, startHandler(adminID, logger)(channelPost))
	require.NoError(t, helpHandler(adminID, logger)(channelPost))
	assert.Empty(t, channelPost.sent)
}

func TestAdminOnlyIgnoresUpdatesWithoutSender(t *testing.T) {
	h, _, n := newTestHandlers()

	c := &fakeContext{}
	require.NoError(t, h.adminOnly("/notify_now", h.handleNotifyNow)(c))
	assert.Empty(t, c.sent)
	assert.Zero(t, n.calls)
}

func TestStatusLabel(t *testing.T) {
	ended := sql.NullTime{Time: fixedNow.AddDate(0, 0, -1), Valid: true}

	assert.Equal(t, "no data", statusLabel(&customer.Customer{}, fixedNow))
	assert.Equal(t, "active", statusLabel(&customer.Customer{
		SubscriptionEndDate: sql.NullTime{Time: fixedNow.AddDate(0, 0, 5), Valid: true},
	}, fixedNow))
	assert.Equal(t, "expired, SMS pending", statusLabel(&customer.Customer{SubscriptionEndDate: ended}, fixedNow))
	assert.Equal(t, "expired, notified", statusLabel(&customer.Customer{SubscriptionEndDate: ended, Notified: true}, fixedNow))
}
