package quota

import (
	"errors"
	"testing"
	"time"

	"postgen-backend/subscriptions"
)

// gateStore implements subscriptions.Store in memory for gate tests.
type gateStore struct {
	plan  *subscriptions.Plan
	sub   *subscriptions.Subscription
	usage *subscriptions.Usage
}

func (g *gateStore) GetPlans() ([]subscriptions.Plan, error) {
	if g.plan == nil {
		return nil, nil
	}
	return []subscriptions.Plan{*g.plan}, nil
}
func (g *gateStore) GetPlanByID(id int) (*subscriptions.Plan, error) { return g.plan, nil }
func (g *gateStore) GetPlanByName(name string) (*subscriptions.Plan, error) { return g.plan, nil }

func (g *gateStore) GetSubscriptionByUserID(userID int) (*subscriptions.Subscription, error) {
	return g.sub, nil
}

func (g *gateStore) GetActiveSubscription(userID int) (*subscriptions.Subscription, error) {
	if g.sub == nil || g.sub.Status != subscriptions.StatusActive {
		return nil, nil
	}
	cp := *g.sub
	cp.Plan = g.plan
	return &cp, nil
}

func (g *gateStore) UpsertSubscription(s *subscriptions.Subscription) error { g.sub = s; return nil }
func (g *gateStore) UpdateSubscriptionByUserID(userID int, upd subscriptions.SubscriptionUpdate) error {
	return nil
}
func (g *gateStore) UpdateSubscriptionByStripeID(id string, upd subscriptions.SubscriptionUpdate) error {
	return nil
}

func (g *gateStore) GetUsage(userID int) (*subscriptions.Usage, error) {
	if g.usage == nil {
		return nil, nil
	}
	cp := *g.usage
	return &cp, nil
}

func (g *gateStore) SeedUsage(userID int, resetDate time.Time) (*subscriptions.Usage, error) {
	if g.usage == nil {
		g.usage = &subscriptions.Usage{UserID: userID, Count: 0, ResetDate: resetDate}
	}
	cp := *g.usage
	return &cp, nil
}

func (g *gateStore) ConsumeUsage(userID int, limit int) (bool, error) {
	if g.usage == nil {
		return false, nil
	}
	if limit != subscriptions.UnlimitedPosts && g.usage.Count >= limit {
		return false, nil
	}
	g.usage.Count++
	return true, nil
}

func (g *gateStore) ResetUsage(userID int, resetDate time.Time) error {
	if g.usage != nil {
		g.usage.Count = 0
		g.usage.ResetDate = resetDate
	}
	return nil
}

func activeStore(limit, count int) *gateStore {
	return &gateStore{
		plan: &subscriptions.Plan{ID: 1, Name: "Test", MonthlyPostLimit: limit},
		sub:  &subscriptions.Subscription{ID: 1, UserID: 7, PlanID: 1, Status: subscriptions.StatusActive},
		usage: &subscriptions.Usage{
			UserID:    7,
			Count:     count,
			ResetDate: time.Now().AddDate(0, 0, 10),
		},
	}
}

func TestRemaining(t *testing.T) {
	cases := []struct {
		name      string
		limit     int
		count     int
		remaining int
		unlimited bool
	}{
		{"unlimited ignores count", subscriptions.UnlimitedPosts, 9999, 0, true},
		{"unlimited at zero", subscriptions.UnlimitedPosts, 0, 0, true},
		{"room left", 30, 12, 18, false},
		{"exactly exhausted", 5, 5, 0, false},
		{"overrun floors at zero", 5, 9, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			remaining, unlimited := Remaining(tc.limit, tc.count)
			if remaining != tc.remaining || unlimited != tc.unlimited {
				t.Fatalf("Remaining(%d, %d) = (%d, %v), want (%d, %v)",
					tc.limit, tc.count, remaining, unlimited, tc.remaining, tc.unlimited)
			}
		})
	}
}

func TestCheck_NoSubscription(t *testing.T) {
	v := NewValidator(&gateStore{})
	if _, _, err := v.Check(7); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}
}

func TestCheck_Exhausted(t *testing.T) {
	v := NewValidator(activeStore(5, 5))
	if _, _, err := v.Check(7); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestCheck_UnlimitedPlanAlwaysPasses(t *testing.T) {
	v := NewValidator(activeStore(subscriptions.UnlimitedPosts, 100000))
	_, unlimited, err := v.Check(7)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !unlimited {
		t.Fatalf("expected unlimited plan")
	}
}

func TestCheck_SeedsMissingUsage(t *testing.T) {
	store := activeStore(5, 0)
	store.usage = nil
	v := NewValidator(store)
	remaining, _, err := v.Check(7)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("remaining = %d, want 5", remaining)
	}
	if store.usage == nil || store.usage.Count != 0 {
		t.Fatalf("usage not seeded: %+v", store.usage)
	}
}

func TestCheck_LazyResetAfterPeriod(t *testing.T) {
	store := activeStore(5, 5)
	store.usage.ResetDate = time.Now().AddDate(0, 0, -1)
	v := NewValidator(store)

	remaining, _, err := v.Check(7)
	if err != nil {
		t.Fatalf("an expired period must reset the counter: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("remaining = %d, want full limit after reset", remaining)
	}
	if store.usage.Count != 0 {
		t.Fatalf("count = %d, want 0 after reset", store.usage.Count)
	}
	if !store.usage.ResetDate.After(time.Now()) {
		t.Fatalf("reset date not rolled forward: %v", store.usage.ResetDate)
	}
}

func TestConsume_Increments(t *testing.T) {
	store := activeStore(5, 2)
	v := NewValidator(store)
	if err := v.Consume(7); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if store.usage.Count != 3 {
		t.Fatalf("count = %d, want 3", store.usage.Count)
	}
}

func TestConsume_GuardStopsAtLimit(t *testing.T) {
	store := activeStore(5, 5)
	// Fresh period so the lazy reset does not kick in.
	store.usage.ResetDate = time.Now().AddDate(0, 0, 10)
	v := NewValidator(store)
	if err := v.Consume(7); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if store.usage.Count != 5 {
		t.Fatalf("guarded increment must not exceed the limit: %d", store.usage.Count)
	}
}
