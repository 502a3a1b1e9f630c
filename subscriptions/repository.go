package subscriptions

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Store is the persistence surface the handlers and the Stripe reconciler
// work against. *Repository is the MySQL implementation.
type Store interface {
	GetPlans() ([]Plan, error)
	GetPlanByID(id int) (*Plan, error)
	GetPlanByName(name string) (*Plan, error)

	GetSubscriptionByUserID(userID int) (*Subscription, error)
	GetActiveSubscription(userID int) (*Subscription, error)
	UpsertSubscription(s *Subscription) error
	UpdateSubscriptionByUserID(userID int, upd SubscriptionUpdate) error
	UpdateSubscriptionByStripeID(stripeSubID string, upd SubscriptionUpdate) error

	GetUsage(userID int) (*Usage, error)
	SeedUsage(userID int, resetDate time.Time) (*Usage, error)
	ConsumeUsage(userID int, limit int) (bool, error)
	ResetUsage(userID int, resetDate time.Time) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetPlans() ([]Plan, error) {
	rows, err := r.db.Query(`SELECT id, name, price, monthly_post_limit, IFNULL(stripe_price_id,'') FROM subscription_plans ORDER BY price ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := []Plan{}
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.MonthlyPostLimit, &p.StripePriceID); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *Repository) GetPlanByID(id int) (*Plan, error) {
	return r.scanPlan(r.db.QueryRow(`SELECT id, name, price, monthly_post_limit, IFNULL(stripe_price_id,'') FROM subscription_plans WHERE id=? LIMIT 1`, id))
}

func (r *Repository) GetPlanByName(name string) (*Plan, error) {
	return r.scanPlan(r.db.QueryRow(`SELECT id, name, price, monthly_post_limit, IFNULL(stripe_price_id,'') FROM subscription_plans WHERE name=? LIMIT 1`, name))
}

func (r *Repository) scanPlan(row *sql.Row) (*Plan, error) {
	var p Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.MonthlyPostLimit, &p.StripePriceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

const subscriptionColumns = `s.id, s.user_id, s.subscription_plan_id, s.status,
	s.stripe_customer_id, s.stripe_subscription_id,
	s.current_period_start, s.current_period_end, s.cancel_at_period_end, s.updated_at,
	p.id, p.name, p.price, p.monthly_post_limit, IFNULL(p.stripe_price_id,'')`

func (r *Repository) scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	var p Plan
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status,
		&s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.UpdatedAt,
		&p.ID, &p.Name, &p.Price, &p.MonthlyPostLimit, &p.StripePriceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.Plan = &p
	return &s, nil
}

// GetSubscriptionByUserID returns the user's subscription joined with its
// plan, regardless of status. Nil when the user has none.
func (r *Repository) GetSubscriptionByUserID(userID int) (*Subscription, error) {
	row := r.db.QueryRow(`SELECT `+subscriptionColumns+`
		FROM user_subscriptions s JOIN subscription_plans p ON s.subscription_plan_id = p.id
		WHERE s.user_id = ? LIMIT 1`, userID)
	return r.scanSubscription(row)
}

// GetActiveSubscription returns the user's subscription only when its status
// is active.
func (r *Repository) GetActiveSubscription(userID int) (*Subscription, error) {
	row := r.db.QueryRow(`SELECT `+subscriptionColumns+`
		FROM user_subscriptions s JOIN subscription_plans p ON s.subscription_plan_id = p.id
		WHERE s.user_id = ? AND s.status = ? LIMIT 1`, userID, StatusActive)
	return r.scanSubscription(row)
}

// UpsertSubscription writes the full subscription snapshot keyed by user_id.
// The UNIQUE key on user_id enforces the one-current-subscription-per-user
// invariant.
func (r *Repository) UpsertSubscription(s *Subscription) error {
	res, err := r.db.Exec(`INSERT INTO user_subscriptions
		(user_id, subscription_plan_id, status, stripe_customer_id, stripe_subscription_id,
		 current_period_start, current_period_end, cancel_at_period_end)
		VALUES (?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
		 subscription_plan_id=VALUES(subscription_plan_id), status=VALUES(status),
		 stripe_customer_id=VALUES(stripe_customer_id), stripe_subscription_id=VALUES(stripe_subscription_id),
		 current_period_start=VALUES(current_period_start), current_period_end=VALUES(current_period_end),
		 cancel_at_period_end=VALUES(cancel_at_period_end), updated_at=NOW()`,
		s.UserID, s.PlanID, s.Status, s.StripeCustomerID, s.StripeSubscriptionID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		s.ID = int(id)
	}
	return nil
}

func (r *Repository) UpdateSubscriptionByUserID(userID int, upd SubscriptionUpdate) error {
	return r.updateSubscription("user_id = ?", userID, upd)
}

func (r *Repository) UpdateSubscriptionByStripeID(stripeSubID string, upd SubscriptionUpdate) error {
	return r.updateSubscription("stripe_subscription_id = ?", stripeSubID, upd)
}

func (r *Repository) updateSubscription(where string, key interface{}, upd SubscriptionUpdate) error {
	sets := []string{}
	args := []interface{}{}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.StripeCustomerID != nil {
		sets = append(sets, "stripe_customer_id = ?")
		args = append(args, *upd.StripeCustomerID)
	}
	if upd.StripeSubscriptionID != nil {
		sets = append(sets, "stripe_subscription_id = ?")
		args = append(args, *upd.StripeSubscriptionID)
	}
	if upd.CurrentPeriodStart != nil {
		sets = append(sets, "current_period_start = ?")
		args = append(args, *upd.CurrentPeriodStart)
	}
	if upd.CurrentPeriodEnd != nil {
		sets = append(sets, "current_period_end = ?")
		args = append(args, *upd.CurrentPeriodEnd)
	}
	if upd.CancelAtPeriodEnd != nil {
		sets = append(sets, "cancel_at_period_end = ?")
		args = append(args, *upd.CancelAtPeriodEnd)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, key)
	query := "UPDATE user_subscriptions SET " + strings.Join(sets, ", ") + " WHERE " + where
	_, err := r.db.Exec(query, args...)
	return err
}

func (r *Repository) GetUsage(userID int) (*Usage, error) {
	row := r.db.QueryRow(`SELECT user_id, count, reset_date, updated_at FROM user_post_usage WHERE user_id = ? LIMIT 1`, userID)
	var u Usage
	if err := row.Scan(&u.UserID, &u.Count, &u.ResetDate, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// SeedUsage lazily creates the usage row with count 0. Idempotent: a
// concurrent seed for the same user leaves the existing row untouched.
func (r *Repository) SeedUsage(userID int, resetDate time.Time) (*Usage, error) {
	_, err := r.db.Exec(`INSERT IGNORE INTO user_post_usage (user_id, count, reset_date) VALUES (?, 0, ?)`, userID, resetDate)
	if err != nil {
		return nil, err
	}
	return r.GetUsage(userID)
}

// ConsumeUsage increments the post count by one, guarded by the plan limit so
// concurrent submissions cannot exceed it. Returns false when the quota is
// exhausted. limit = UnlimitedPosts skips the guard.
func (r *Repository) ConsumeUsage(userID int, limit int) (bool, error) {
	res, err := r.db.Exec(`UPDATE user_post_usage SET count = count + 1, updated_at = NOW()
		WHERE user_id = ? AND (? = -1 OR count < ?)`, userID, limit, limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetUsage starts a fresh period for the user.
func (r *Repository) ResetUsage(userID int, resetDate time.Time) error {
	_, err := r.db.Exec(`UPDATE user_post_usage SET count = 0, reset_date = ?, updated_at = NOW() WHERE user_id = ?`, resetDate, userID)
	return err
}

// ActivateFreePlan self-activates the free plan for a fresh user: an active
// subscription row with a 30-day period plus a zeroed usage row. Used on
// signup, without going through Stripe.
func ActivateFreePlan(store Store, userID int) error {
	plan, err := store.GetPlanByName("Free")
	if err != nil {
		return err
	}
	if plan == nil {
		// fall back to the cheapest plan
		plans, err := store.GetPlans()
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			return errors.New("no subscription plans configured")
		}
		cheapest := plans[0]
		for _, p := range plans[1:] {
			if p.Price < cheapest.Price {
				cheapest = p
			}
		}
		plan = &cheapest
	}
	now := time.Now()
	end := now.AddDate(0, 0, 30)
	sub := &Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   end,
	}
	if err := store.UpsertSubscription(sub); err != nil {
		return err
	}
	_, err = store.SeedUsage(userID, end)
	return err
}
