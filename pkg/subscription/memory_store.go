package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/courseloop/courseloop/pkg/plan"
)

// MemoryStore is an in-memory UserStore for tests and local development.
// It honors the same conditional-update semantics as the Mongo store.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]*User
	processed map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		processed: make(map[string]time.Time),
	}
}

// Put inserts or replaces a user. Test setup helper.
func (s *MemoryStore) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetByCustomerID(ctx context.Context, customerID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Subscription != nil && u.Subscription.StripeCustomerID == customerID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) Activate(ctx context.Context, userID string, act Activation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}

	sub := u.Subscription
	if sub != nil && sub.ExpiryDate != nil && !sub.ExpiryDate.Before(act.ExpiryDate) {
		return false, nil
	}
	if act.Event != nil && hasBillingReference(u, act.Event.Reference) {
		return false, nil
	}

	if sub == nil {
		sub = &Subscription{}
		u.Subscription = sub
	}
	expiry := act.ExpiryDate
	sub.Tier = act.Tier
	sub.Plan = act.Tier
	sub.Status = StatusActive
	sub.ExpiryDate = &expiry
	sub.AutoRenew = true
	sub.RenewalReminderSent = false
	sub.RenewalReminderSentAt = nil
	if act.Refs.CustomerID != "" {
		sub.StripeCustomerID = act.Refs.CustomerID
	}
	if act.Refs.SubscriptionID != "" {
		sub.StripeSubscriptionID = act.Refs.SubscriptionID
	}
	if act.Event != nil {
		u.BillingHistory = append(u.BillingHistory, *act.Event)
	}
	return true, nil
}

func (s *MemoryStore) UpdateFromProvider(ctx context.Context, userID string, upd ProviderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.Subscription == nil {
		u.Subscription = &Subscription{}
	}
	u.Subscription.Status = upd.Status
	u.Subscription.AutoRenew = upd.AutoRenew
	if upd.Status == StatusExpired {
		now := time.Now().UTC()
		u.Subscription.Tier = plan.TierFree
		u.Subscription.Plan = plan.TierFree
		u.Subscription.DowngradedAt = &now
	}
	if upd.ExpiryDate != nil {
		expiry := *upd.ExpiryDate
		u.Subscription.ExpiryDate = &expiry
		u.Subscription.RenewalReminderSent = false
		u.Subscription.RenewalReminderSentAt = nil
	}
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if !u.Subscription.IsActive() {
		return false, nil
	}
	at = at.UTC()
	u.Subscription.Status = StatusCancelled
	u.Subscription.AutoRenew = false
	u.Subscription.CanceledAt = &at
	return true, nil
}

func (s *MemoryStore) DowngradeToFree(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.Subscription == nil {
		u.Subscription = &Subscription{}
	}
	at = at.UTC()
	u.Subscription.Tier = plan.TierFree
	u.Subscription.Plan = plan.TierFree
	u.Subscription.Status = StatusExpired
	u.Subscription.AutoRenew = false
	u.Subscription.ExpiryDate = nil
	u.Subscription.DowngradedAt = &at
	return nil
}

func (s *MemoryStore) MarkExpired(ctx context.Context, userID string, at time.Time, ev *BillingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.Subscription != nil && u.Subscription.Status == StatusExpired {
		return false, nil
	}
	if ev != nil && hasBillingReference(u, ev.Reference) {
		return false, nil
	}
	if u.Subscription == nil {
		u.Subscription = &Subscription{}
	}
	at = at.UTC()
	u.Subscription.Tier = plan.TierFree
	u.Subscription.Plan = plan.TierFree
	u.Subscription.Status = StatusExpired
	u.Subscription.AutoRenew = false
	u.Subscription.DowngradedAt = &at
	if ev != nil {
		u.BillingHistory = append(u.BillingHistory, *ev)
	}
	return true, nil
}

func (s *MemoryStore) ApplyExpiryIfDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	sub := u.Subscription
	if sub == nil || !isPaidStatus(sub.Status) || sub.ExpiryDate == nil || !sub.ExpiryDate.Before(now) {
		return false, nil
	}
	now = now.UTC()
	sub.Tier = plan.TierFree
	sub.Plan = plan.TierFree
	sub.Status = StatusExpired
	sub.DowngradedAt = &now
	return true, nil
}

func (s *MemoryStore) ListExpiring(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, u := range s.users {
		sub := u.Subscription
		if sub != nil && isPaidStatus(sub.Status) && sub.ExpiryDate != nil && sub.ExpiryDate.Before(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) ListRenewalsDue(ctx context.Context, from, to time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, u := range s.users {
		sub := u.Subscription
		if sub == nil || sub.RenewalReminderSent || sub.ExpiryDate == nil {
			continue
		}
		if sub.Status != StatusActive && sub.Status != StatusTrialing {
			continue
		}
		if !sub.ExpiryDate.Before(from) && !sub.ExpiryDate.After(to) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) MarkReminded(ctx context.Context, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.Subscription == nil || u.Subscription.RenewalReminderSent {
		return false, nil
	}
	at = at.UTC()
	u.Subscription.RenewalReminderSent = true
	u.Subscription.RenewalReminderSentAt = &at
	return true, nil
}

func (s *MemoryStore) AppendBillingEvent(ctx context.Context, userID string, ev BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.BillingHistory = append(u.BillingHistory, ev)
	return nil
}

func (s *MemoryStore) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = time.Now().UTC()
	}
	return nil
}

func isPaidStatus(st Status) bool {
	return st == StatusActive || st == StatusTrialing || st == StatusCancelled
}

func hasBillingReference(u *User, ref string) bool {
	for _, ev := range u.BillingHistory {
		if ev.Reference == ref {
			return true
		}
	}
	return false
}

func cloneUser(u *User) *User {
	out := *u
	if u.Subscription != nil {
		sub := *u.Subscription
		out.Subscription = &sub
	}
	out.BillingHistory = slices.Clone(u.BillingHistory)
	return &out
}
