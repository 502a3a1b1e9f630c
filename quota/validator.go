package quota

import (
	"errors"
	"log"
	"strings"
	"time"

	"postgen-backend/login"
	"postgen-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

var (
	ErrNoSubscription = errors.New("no subscription")
	ErrExhausted      = errors.New("quota exhausted")
)

// Validator gates post generation on the user's plan limit and current
// monthly usage.
type Validator struct {
	store subscriptions.Store
}

func NewValidator(store subscriptions.Store) *Validator { return &Validator{store: store} }

// Remaining computes how many posts the user may still generate this period.
// unlimited is true for plans with the -1 sentinel, regardless of the count.
func Remaining(limit, count int) (remaining int, unlimited bool) {
	if limit == subscriptions.UnlimitedPosts {
		return 0, true
	}
	remaining = limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false
}

// Check verifies the user has an active subscription with room left this
// period. The usage row is seeded lazily, and a row whose reset_date has
// passed is reset to zero before the check.
func (v *Validator) Check(userID int) (remaining int, unlimited bool, err error) {
	sub, err := v.store.GetActiveSubscription(userID)
	if err != nil {
		return 0, false, err
	}
	if sub == nil || sub.Plan == nil {
		log.Printf("[QUOTA] deny user_id=%d reason=no_subscription", userID)
		return 0, false, ErrNoSubscription
	}
	usage, err := v.currentUsage(userID)
	if err != nil {
		return 0, false, err
	}
	remaining, unlimited = Remaining(sub.Plan.MonthlyPostLimit, usage.Count)
	if !unlimited && remaining <= 0 {
		log.Printf("[QUOTA] exhausted user_id=%d count=%d limit=%d", userID, usage.Count, sub.Plan.MonthlyPostLimit)
		return 0, false, ErrExhausted
	}
	return remaining, unlimited, nil
}

// Consume records one generated post. The increment is a conditional update
// guarded by the plan limit, so two racing submissions cannot both pass.
func (v *Validator) Consume(userID int) error {
	sub, err := v.store.GetActiveSubscription(userID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Plan == nil {
		return ErrNoSubscription
	}
	if _, err := v.currentUsage(userID); err != nil {
		return err
	}
	ok, err := v.store.ConsumeUsage(userID, sub.Plan.MonthlyPostLimit)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[QUOTA] race_exhausted user_id=%d limit=%d", userID, sub.Plan.MonthlyPostLimit)
		return ErrExhausted
	}
	log.Printf("[QUOTA] consumed user_id=%d", userID)
	return nil
}

// currentUsage seeds the row when absent and rolls it over when the reset
// date has passed.
func (v *Validator) currentUsage(userID int) (*subscriptions.Usage, error) {
	usage, err := v.store.GetUsage(userID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return v.store.SeedUsage(userID, time.Now().AddDate(0, 0, 30))
	}
	if time.Now().After(usage.ResetDate) {
		reset := time.Now().AddDate(0, 0, 30)
		if err := v.store.ResetUsage(userID, reset); err != nil {
			return nil, err
		}
		log.Printf("[QUOTA] period reset user_id=%d", userID)
		usage.Count = 0
		usage.ResetDate = reset
	}
	return usage, nil
}

// --- User resolver adapter ---
// Indirection so this package does not depend on the users table directly.

type UserLite struct {
	ID    int
	Email string
}

var userResolver = func(email string) *UserLite { return nil }

// RegisterUserResolver allows main to provide a resolver.
func RegisterUserResolver(fn func(email string) *UserLite) { userResolver = fn }

// ResolveUser identifies the requesting user from the Authorization header.
func ResolveUser(c *gin.Context) (*UserLite, bool) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		return nil, false
	}
	email, ok := login.GetEmailFromToken(token)
	if !ok {
		return nil, false
	}
	u := userResolver(email)
	if u == nil {
		return nil, false
	}
	return u, true
}

// Middleware denies the request when the gate check fails; the handler is
// expected to call Consume after a successful generation.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := ResolveUser(c)
		if !ok {
			c.JSON(401, gin.H{"error": "Nicht autorisiert"})
			c.Abort()
			return
		}
		remaining, unlimited, err := v.Check(u.ID)
		if err != nil {
			switch {
			case errors.Is(err, ErrNoSubscription):
				c.JSON(403, gin.H{"error": "Kein aktives Abonnement"})
			case errors.Is(err, ErrExhausted):
				c.JSON(403, gin.H{"error": "Monatliches Post-Limit erreicht"})
			default:
				c.JSON(500, gin.H{"error": err.Error()})
			}
			c.Abort()
			return
		}
		c.Set("user_id", u.ID)
		if unlimited {
			c.Set("quota_remaining", "unlimited")
		} else {
			c.Set("quota_remaining", remaining)
		}
		c.Next()
	}
}
