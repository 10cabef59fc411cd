package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"
	"gym_subscription_notifier/internal/infra/database"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "staff-secret"

type stubCustomers struct {
	byID     map[string]*customer.Customer
	lastIn   app.CustomerInput
	lastList string
	paid     []string
}

func (s *stubCustomers) AddCustomer(_ context.Context, in app.CustomerInput) (*customer.Customer, error) {
	if in.FirstName == "" {
		return nil, fmt.Errorf("%w: first name is required", app.ErrInvalidCustomer)
	}
	s.lastIn = in
	c := &customer.Customer{ID: "01NEW", FirstName: in.FirstName, PhoneNumber: in.PhoneNumber}
	s.byID[c.ID] = c
	return c, nil
}

func (s *stubCustomers) GetCustomer(_ context.Context, id string) (*customer.Customer, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, database.ErrCustomerNotFound
	}
	return c, nil
}

func (s *stubCustomers) UpdateCustomer(ctx context.Context, id string, in app.CustomerInput) (*customer.Customer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	c.FirstName = in.FirstName
	return c, nil
}

func (s *stubCustomers) DeleteCustomer(_ context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return database.ErrCustomerNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *stubCustomers) RecordPayment(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.paid = append(s.paid, id)
	c.ApplyPayment(time.Now())
	return c, nil
}

func (s *stubCustomers) ListCustomers(_ context.Context, query string) ([]*customer.Customer, error) {
	s.lastList = query
	out := make([]*customer.Customer, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	return out, nil
}

func (s *stubCustomers) ListExpired(context.Context) ([]*customer.Customer, error) {
	return nil, errors.New("directory unavailable")
}

type stubNotifier struct {
	run *notification.Run
	err error
}

func (n *stubNotifier) RunOnce(context.Context) (*notification.Run, error) { return n.run, n.err }

type stubRuns struct{ limit int }

func (r *stubRuns) CreateRun(context.Context, *notification.Run) error { return nil }

func (r *stubRuns) ListRecentRuns(_ context.Context, limit int) ([]*notification.Run, error) {
	r.limit = limit
	return []*notification.Run{{ID: "run-1", Sent: 2}}, nil
}

func newTestServer(t *testing.T, apiKey string) (*Server, *stubCustomers, *stubNotifier, *stubRuns) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	customers := &stubCustomers{byID: map[string]*customer.Customer{
		"01A": {
			ID:                  "01A",
			FirstName:           "Anna",
			PhoneNumber:         "+35799000001",
			SubscriptionEndDate: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
		},
	}}
	notifier := &stubNotifier{run: &notification.Run{ID: "run-9", Candidates: 1, Sent: 1}}
	runs := &stubRuns{}
	srv := NewServer(Deps{
		Customers: customers,
		Notifier:  notifier,
		Runs:      runs,
		Gatherer:  prometheus.NewRegistry(),
		APIKey:    apiKey,
		Logger:    logrus.NewEntry(l),
	})
	return srv, customers, notifier, runs
}

func do(srv http.Handler, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if withKey {
		req.Header.Set("X-API-Key", testKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	srv, _, _, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(srv, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaffRoutesRequireAPIKey(t *testing.T) {
	srv, _, _, _ := newTestServer(t, testKey)

	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/v1/customers", "", false).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/customers", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffRoutesDisabledWithoutKey(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "")
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/v1/customers", "", true).Code)
}

func TestGetCustomer(t *testing.T) {
	srv, _, _, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodGet, "/v1/customers/01A", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view customerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Anna", view.FirstName)
	assert.Equal(t, "expired", view.Status)
	assert.True(t, view.PendingNotification)
	assert.NotNil(t, view.SubscriptionEndDate)
	assert.Nil(t, view.LastPaymentDate)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/v1/customers/nope", "", true).Code)
}

func TestCreateCustomer(t *testing.T) {
	srv, customers, _, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodPost, "/v1/customers", `{"first_name":"Maria","phone_number":"99123456"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "99123456", customers.lastIn.PhoneNumber)

	rec = do(srv, http.MethodPost, "/v1/customers", `{"phone_number":"99123456"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "first name is required")

	rec = do(srv, http.MethodPost, "/v1/customers", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordPaymentAndDelete(t *testing.T) {
	srv, customers, _, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodPost, "/v1/customers/01A/payments", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"01A"}, customers.paid)
	var view customerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "active", view.Status)
	assert.False(t, view.Notified)

	assert.Equal(t, http.StatusNoContent, do(srv, http.MethodDelete, "/v1/customers/01A", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodDelete, "/v1/customers/01A", "", true).Code)
}

func TestListCustomers(t *testing.T) {
	srv, customers, _, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodGet, "/v1/customers?q=ann", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann", customers.lastList)

	rec = do(srv, http.MethodGet, "/v1/customers?status=expired", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunNotifier(t *testing.T) {
	srv, _, notifier, _ := newTestServer(t, testKey)

	rec := do(srv, http.MethodPost, "/v1/notifier/run", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "run-9", view.ID)
	assert.Equal(t, 1, view.Sent)

	notifier.err = errors.New("query failed")
	rec = do(srv, http.MethodPost, "/v1/notifier/run", "", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListRuns(t *testing.T) {
	srv, _, _, runs := newTestServer(t, testKey)

	rec := do(srv, http.MethodGet, "/v1/notifier/runs", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRunsLimit, runs.limit)

	rec = do(srv, http.MethodGet, "/v1/notifier/runs?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/v1/notifier/runs?limit=abc", "", true).Code)
}
