package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/messaging"
	"gym_subscription_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var errNotFound = errors.New("customer not found")

// memDirectory is an in-memory customer.Repository.
type memDirectory struct {
	mu        sync.Mutex
	customers map[string]*customer.Customer
	nextID    int

	listErr      error
	markErr      map[string]error
	beforeList   func()
	markCalls    int
	failureCalls int
}

func newMemDirectory(cs ...*customer.Customer) *memDirectory {
	d := &memDirectory{customers: map[string]*customer.Customer{}, markErr: map[string]error{}}
	for _, c := range cs {
		cp := *c
		d.customers[c.ID] = &cp
	}
	return d
}

func (d *memDirectory) get(id string) customer.Customer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.customers[id]
}

func (d *memDirectory) Create(_ context.Context, c *customer.Customer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	c.ID = fmt.Sprintf("cust-%d", d.nextID)
	cp := *c
	d.customers[c.ID] = &cp
	return nil
}

func (d *memDirectory) GetByID(_ context.Context, id string) (*customer.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *memDirectory) Update(_ context.Context, c *customer.Customer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old, ok := d.customers[c.ID]
	if !ok {
		return errNotFound
	}
	cp := *c
	if old.SubscriptionEndDate != c.SubscriptionEndDate {
		cp.Notified = false
		cp.NotifyAttempts = 0
	} else {
		cp.Notified = old.Notified
		cp.NotifyAttempts = old.NotifyAttempts
	}
	d.customers[c.ID] = &cp
	return nil
}

func (d *memDirectory) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.customers[id]; !ok {
		return errNotFound
	}
	delete(d.customers, id)
	return nil
}

func (d *memDirectory) ListAll(_ context.Context) ([]*customer.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*customer.Customer, 0, len(d.customers))
	for _, c := range d.customers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memDirectory) RecordPayment(_ context.Context, id string, paidAt, endDate time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[id]
	if !ok {
		return errNotFound
	}
	c.ApplyPayment(paidAt)
	c.SubscriptionEndDate = sql.NullTime{Time: endDate, Valid: true}
	return nil
}

func (d *memDirectory) ListDueForNotification(_ context.Context, now time.Time, maxAttempts int) ([]*customer.Customer, error) {
	if d.beforeList != nil {
		d.beforeList()
	}
	if d.listErr != nil {
		return nil, d.listErr
	}
	all, _ := d.ListAll(context.Background())
	due := make([]*customer.Customer, 0)
	for _, c := range all {
		if c.DueForNotification(now) && (maxAttempts <= 0 || c.NotifyAttempts < maxAttempts) {
			due = append(due, c)
		}
	}
	return due, nil
}

func (d *memDirectory) CountDeadLettered(_ context.Context, now time.Time, maxAttempts int) (int, error) {
	all, _ := d.ListAll(context.Background())
	n := 0
	for _, c := range all {
		if c.DueForNotification(now) && c.NotifyAttempts >= maxAttempts {
			n++
		}
	}
	return n, nil
}

func (d *memDirectory) MarkNotified(_ context.Context, id string, expiredAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markCalls++
	if err := d.markErr[id]; err != nil {
		return err
	}
	c, ok := d.customers[id]
	if !ok {
		return errNotFound
	}
	if !c.SubscriptionEndDate.Time.Equal(expiredAt) {
		return customer.ErrSubscriptionChanged
	}
	c.Notified = true
	return nil
}

func (d *memDirectory) RecordNotifyFailure(_ context.Context, id string, expiredAt time.Time, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failureCalls++
	c, ok := d.customers[id]
	if !ok {
		return errNotFound
	}
	if !c.SubscriptionEndDate.Time.Equal(expiredAt) {
		return customer.ErrSubscriptionChanged
	}
	c.NotifyAttempts++
	c.LastNotifyError = sql.NullString{String: reason, Valid: true}
	return nil
}

// recordingSender captures every send attempt.
type recordingSender struct {
	mu       sync.Mutex
	sent     []messaging.Message
	failFor  map[string]error
	onSend   func(msg messaging.Message)
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failFor: map[string]error{}}
}

func (s *recordingSender) Send(ctx context.Context, msg messaging.Message) (messaging.Receipt, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.onSend != nil {
		s.onSend(msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if err := s.failFor[msg.To]; err != nil {
		return messaging.Receipt{}, err
	}
	return messaging.Receipt{SID: fmt.Sprintf("SM%03d", len(s.sent)), Status: "queued"}, nil
}

func (s *recordingSender) sentTo(phone string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.To == phone {
			n++
		}
	}
	return n
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memRuns struct {
	mu   sync.Mutex
	runs []*notification.Run
}

func (r *memRuns) CreateRun(_ context.Context, run *notification.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs = append(r.runs, &cp)
	return nil
}

func (r *memRuns) ListRecentRuns(_ context.Context, limit int) ([]*notification.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*notification.Run, 0, limit)
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.runs[i])
	}
	return out, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []notification.ExpiredNotified
	err    error
}

func (p *memPublisher) PublishExpiredNotified(_ context.Context, evt notification.ExpiredNotified) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func newTestLogger() (*logrus.Entry, *test.Hook) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	hook := test.NewLocal(l)
	return logrus.NewEntry(l), hook
}
