package subscriptions

import "time"

// UnlimitedPosts is the monthly_post_limit sentinel for plans without a quota.
const UnlimitedPosts = -1

// Subscription lifecycle statuses. Stripe may report further values
// (trialing, unpaid, ...); those are stored as-is.
const (
	StatusIncomplete = "incomplete"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
)

type Plan struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Price            int64  `json:"price"` // cents
	MonthlyPostLimit int    `json:"monthly_post_limit"`
	StripePriceID    string `json:"stripe_price_id,omitempty"`
}

type Subscription struct {
	ID                   int       `json:"id"`
	UserID               int       `json:"user_id"`
	PlanID               int       `json:"subscription_plan_id"`
	Status               string    `json:"status"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
	UpdatedAt            time.Time `json:"updated_at"`
	Plan                 *Plan     `json:"subscription_plans,omitempty"`
}

type Usage struct {
	UserID    int       `json:"-"`
	Count     int       `json:"count"`
	ResetDate time.Time `json:"reset_date"`
	UpdatedAt time.Time `json:"-"`
}

// SubscriptionUpdate is a partial snapshot applied to a subscription row.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	Status               *string
	StripeCustomerID     *string
	StripeSubscriptionID *string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    *bool
}
