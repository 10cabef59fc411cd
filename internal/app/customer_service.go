package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gym_subscription_notifier/internal/domain/customer"
)

// ErrInvalidCustomer wraps validation failures on staff input.
var ErrInvalidCustomer = errors.New("invalid customer")

// CustomerInput carries the editable profile of a customer.
type CustomerInput struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Sex            string     `json:"sex"`
	PhoneNumber    string     `json:"phone_number"`
	Email          string     `json:"email"`
	Birthdate      *time.Time `json:"birthdate,omitempty"`
	Occupation     string     `json:"occupation"`
	FitnessLevel   string     `json:"fitness_level"`
	HealthProblems string     `json:"health_problems"`
	Injuries       string     `json:"injuries"`
	Medication     string     `json:"medication"`
	FitnessGoal    string     `json:"fitness_goal"`
	Other          string     `json:"other"`

	LastPaymentDate     *time.Time `json:"last_payment_date,omitempty"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

type CustomerService struct {
	customerRepo customer.Repository
	now          func() time.Time
}

func NewCustomerService(cr customer.Repository) *CustomerService {
	return &CustomerService{
		customerRepo: cr,
		now:          time.Now,
	}
}

// AddCustomer validates and stores a new customer. New customers start unnotified.
func (s *CustomerService) AddCustomer(ctx context.Context, in CustomerInput) (*customer.Customer, error) {
	c := &customer.Customer{}
	if err := applyInput(c, in); err != nil {
		return nil, err
	}
	c.Notified = false

	if err := s.customerRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create customer in repository: %w", err)
	}
	return c, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	return s.customerRepo.GetByID(ctx, id)
}

// UpdateCustomer replaces the editable profile. The repository re-arms the
// notifier when the subscription end date changes.
func (s *CustomerService) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*customer.Customer, error) {
	c, err := s.customerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyInput(c, in); err != nil {
		return nil, err
	}
	if err := s.customerRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update customer %s: %w", id, err)
	}
	return s.customerRepo.GetByID(ctx, id)
}

func (s *CustomerService) DeleteCustomer(ctx context.Context, id string) error {
	return s.customerRepo.Delete(ctx, id)
}

// RecordPayment marks the customer as paid today: the subscription now ends in
// customer.SubscriptionPeriod and the notified flag is cleared.
func (s *CustomerService) RecordPayment(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := s.customerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ApplyPayment(s.now())
	if err := s.customerRepo.RecordPayment(ctx, id, c.LastPaymentDate.Time, c.SubscriptionEndDate.Time); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCustomers returns customers sorted by first name, optionally filtered by a
// subsequence match on the full name.
func (s *CustomerService) ListCustomers(ctx context.Context, query string) ([]*customer.Customer, error) {
	all, err := s.customerRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	matched := make([]*customer.Customer, 0, len(all))
	for _, c := range all {
		if c.MatchesName(query) {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return strings.ToLower(matched[i].FirstName) < strings.ToLower(matched[j].FirstName)
	})
	return matched, nil
}

// ListExpired returns every customer whose subscription has ended, notified or not.
func (s *CustomerService) ListExpired(ctx context.Context) ([]*customer.Customer, error) {
	all, err := s.ListCustomers(ctx, "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	expired := make([]*customer.Customer, 0)
	for _, c := range all {
		if c.StatusAt(now) == customer.StatusExpired {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func applyInput(c *customer.Customer, in CustomerInput) error {
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return fmt.Errorf("%w: first name is required", ErrInvalidCustomer)
	}

	var phone string
	if strings.TrimSpace(in.PhoneNumber) != "" {
		phone = customer.NormalizePhone(in.PhoneNumber)
		if phone == "" {
			return fmt.Errorf("%w: phone number %q is not valid", ErrInvalidCustomer, in.PhoneNumber)
		}
	}

	c.FirstName = firstName
	c.LastName = strings.TrimSpace(in.LastName)
	c.Sex = strings.TrimSpace(in.Sex)
	c.PhoneNumber = phone
	c.Email = strings.TrimSpace(in.Email)
	c.Birthdate = nullTime(in.Birthdate)
	c.Occupation = in.Occupation
	c.FitnessLevel = in.FitnessLevel
	c.HealthProblems = in.HealthProblems
	c.Injuries = in.Injuries
	c.Medication = in.Medication
	c.FitnessGoal = in.FitnessGoal
	c.Other = in.Other
	c.LastPaymentDate = nullTime(in.LastPaymentDate)
	c.SubscriptionEndDate = nullTime(in.SubscriptionEndDate)
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
