package subscriptions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	ErrPlanNotFound   = errors.New("plan nicht gefunden")
	ErrMissingPriceID = errors.New("stripe price id fehlt")
	ErrBadSignature   = errors.New("ungültige webhook-signatur")
)

// stripeAPI is the slice of the Stripe client the reconciler needs. Kept
// narrow so tests can stub the processor.
type stripeAPI interface {
	FindCustomerByEmail(email string) (*stripe.Customer, error)
	CreateCustomer(email string, userID int) (*stripe.Customer, error)
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(id string) (*stripe.Subscription, error)
}

type stripeClient struct {
	sc *client.API
}

func (c *stripeClient) FindCustomerByEmail(email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	it := c.sc.Customers.List(params)
	for it.Next() {
		return it.Customer(), nil
	}
	return nil, it.Err()
}

func (c *stripeClient) CreateCustomer(email string, userID int) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.AddMetadata("user_id", strconv.Itoa(userID))
	return c.sc.Customers.New(params)
}

func (c *stripeClient) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.sc.CheckoutSessions.New(params)
}

func (c *stripeClient) GetSubscription(id string) (*stripe.Subscription, error) {
	return c.sc.Subscriptions.Get(id, nil)
}

// StripeService keeps local subscription state consistent with Stripe: it
// initiates checkout (push to Stripe), applies webhook events (push from
// Stripe) and corroborates the pull-based status query. Both paths converge
// on the same user_subscriptions row.
type StripeService struct {
	store         Store
	api           stripeAPI
	webhookSecret string
	successURL    string
	cancelURL     string
	notifyActive  func(userID, planID int)
}

// OnActivation registers a callback fired after a checkout completes and the
// subscription row is active. Used for the confirmation email.
func (s *StripeService) OnActivation(fn func(userID, planID int)) {
	s.notifyActive = fn
}

// NewStripeFromEnv builds the service from STRIPE_* environment variables.
// Missing configuration is a startup error, not a silent stub.
func NewStripeFromEnv(store Store) (*StripeService, error) {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY must be set")
	}
	whSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if whSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set")
	}
	success := os.Getenv("CHECKOUT_SUCCESS_URL")
	if success == "" {
		success = "http://localhost:5173/subscription-success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancel := os.Getenv("CHECKOUT_CANCEL_URL")
	if cancel == "" {
		cancel = "http://localhost:5173/subscriptions"
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeService{
		store:         store,
		api:           &stripeClient{sc: sc},
		webhookSecret: whSecret,
		successURL:    success,
		cancelURL:     cancel,
	}, nil
}

// CreateCheckout starts a hosted checkout for the given user and plan and
// returns the session URL. A pending subscription row in status "incomplete"
// is pre-created so the UI has something to poll right after the redirect,
// even if the user abandons checkout.
func (s *StripeService) CreateCheckout(userID int, email string, planID int) (string, error) {
	plan, err := s.store.GetPlanByID(planID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "", ErrPlanNotFound
	}
	if plan.StripePriceID == "" {
		return "", ErrMissingPriceID
	}

	customerID, err := s.resolveCustomer(userID, email)
	if err != nil {
		return "", err
	}

	meta := map[string]string{
		"user_id": strconv.Itoa(userID),
		"plan_id": strconv.Itoa(planID),
	}
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Metadata:           meta,
		// Metadata on the subscription too, so later subscription.* events can
		// be attributed without a secondary lookup.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	sess, err := s.api.CreateCheckoutSession(params)
	if err != nil {
		log.Printf("[CREATE-CHECKOUT] session error user_id=%d plan_id=%d: %v", userID, planID, err)
		return "", err
	}
	log.Printf("[CREATE-CHECKOUT] session created user_id=%d plan_id=%d session=%s", userID, planID, sess.ID)

	now := time.Now()
	pending := &Subscription{
		UserID:             userID,
		PlanID:             planID,
		Status:             StatusIncomplete,
		StripeCustomerID:   customerID,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := s.store.UpsertSubscription(pending); err != nil {
		// The webhook will reconcile the row anyway; do not fail the checkout.
		log.Printf("[CREATE-CHECKOUT] pending row error user_id=%d: %v", userID, err)
	}
	return sess.URL, nil
}

// resolveCustomer prefers the customer reference already stored on the user's
// subscription row, then an existing Stripe customer with the same email, and
// creates one as a last resort.
func (s *StripeService) resolveCustomer(userID int, email string) (string, error) {
	if sub, err := s.store.GetSubscriptionByUserID(userID); err == nil && sub != nil && sub.StripeCustomerID != "" {
		return sub.StripeCustomerID, nil
	}
	if cust, err := s.api.FindCustomerByEmail(email); err == nil && cust != nil {
		return cust.ID, nil
	}
	cust, err := s.api.CreateCustomer(email, userID)
	if err != nil {
		return "", err
	}
	log.Printf("[CREATE-CHECKOUT] customer created user_id=%d customer=%s", userID, cust.ID)
	return cust.ID, nil
}

// StatusResult is the response of the pull-based status query.
type StatusResult struct {
	HasActiveSubscription bool          `json:"hasActiveSubscription"`
	Subscription          *Subscription `json:"subscription,omitempty"`
	Usage                 *Usage        `json:"usage"`
}

// CheckStatus reports whether the user currently has an active subscription,
// corroborating with Stripe when the row carries a subscription reference.
// Corroboration failures fall back to trusting the local record.
func (s *StripeService) CheckStatus(userID int) (*StatusResult, error) {
	res := &StatusResult{}
	sub, err := s.store.GetActiveSubscription(userID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		res.HasActiveSubscription = true
		res.Subscription = sub
		if sub.StripeSubscriptionID != "" {
			if ssub, err := s.api.GetSubscription(sub.StripeSubscriptionID); err != nil {
				log.Printf("[CHECK-SUBSCRIPTION] corroboration failed user_id=%d: %v", userID, err)
			} else if string(ssub.Status) != StatusActive {
				status := string(ssub.Status)
				if err := s.store.UpdateSubscriptionByUserID(userID, SubscriptionUpdate{Status: &status}); err != nil {
					log.Printf("[CHECK-SUBSCRIPTION] downgrade write failed user_id=%d: %v", userID, err)
				}
				log.Printf("[CHECK-SUBSCRIPTION] downgraded user_id=%d status=%s", userID, status)
				res.HasActiveSubscription = false
				res.Subscription = nil
			}
		}
	}

	usage, err := s.store.GetUsage(userID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage, err = s.store.SeedUsage(userID, time.Now().AddDate(0, 0, 30))
		if err != nil {
			return nil, err
		}
	}
	res.Usage = usage
	return res, nil
}

// ProcessWebhook verifies the signature over the raw payload and applies the
// event. Signature or parse failures return ErrBadSignature and mutate
// nothing; per-event database errors are logged and swallowed so Stripe does
// not retry indefinitely (at-least-once delivery, best effort on our side).
func (s *StripeService) ProcessWebhook(payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		log.Printf("[STRIPE-WEBHOOK] signature verification failed: %v", err)
		return ErrBadSignature
	}
	log.Printf("[STRIPE-WEBHOOK] event received type=%s id=%s", event.Type, event.ID)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return ErrBadSignature
		}
		s.handleCheckoutCompleted(&sess)
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return ErrBadSignature
		}
		s.handleInvoicePaid(&inv)
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ErrBadSignature
		}
		s.handleSubscriptionUpdated(&sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ErrBadSignature
		}
		s.handleSubscriptionDeleted(&sub)
	default:
		log.Printf("[STRIPE-WEBHOOK] ignored event type=%s", event.Type)
	}
	return nil
}

// handleCheckoutCompleted finalizes the pending row: active status plus the
// customer and subscription references. Period bounds start provisional and
// are refined from the Stripe subscription, so replaying the event converges
// on the same row.
func (s *StripeService) handleCheckoutCompleted(sess *stripe.CheckoutSession) {
	if sess.Subscription == nil || sess.Metadata == nil {
		log.Printf("[STRIPE-WEBHOOK] checkout completed without subscription/metadata session=%s", sess.ID)
		return
	}
	userID, err1 := strconv.Atoi(sess.Metadata["user_id"])
	planID, err2 := strconv.Atoi(sess.Metadata["plan_id"])
	if err1 != nil || err2 != nil {
		log.Printf("[STRIPE-WEBHOOK] checkout completed with incomplete metadata session=%s", sess.ID)
		return
	}
	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	now := time.Now()
	sub := &Subscription{
		UserID:               userID,
		PlanID:               planID,
		Status:               StatusActive,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sess.Subscription.ID,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
	}
	// On a redelivery the row may already carry period bounds refined from the
	// processor; keep them instead of regressing to the provisional window.
	if prev, err := s.store.GetSubscriptionByUserID(userID); err == nil && prev != nil &&
		prev.StripeSubscriptionID == sess.Subscription.ID {
		sub.CurrentPeriodStart = prev.CurrentPeriodStart
		sub.CurrentPeriodEnd = prev.CurrentPeriodEnd
	}
	if err := s.store.UpsertSubscription(sub); err != nil {
		log.Printf("[STRIPE-WEBHOOK] checkout upsert failed user_id=%d: %v", userID, err)
		return
	}
	log.Printf("[STRIPE-WEBHOOK] subscription activated user_id=%d sub=%s", userID, sess.Subscription.ID)
	if s.notifyActive != nil {
		s.notifyActive(userID, planID)
	}

	// Fetch the subscription for the authoritative period bounds; best effort.
	ssub, err := s.api.GetSubscription(sess.Subscription.ID)
	if err != nil {
		log.Printf("[STRIPE-WEBHOOK] period fetch failed sub=%s: %v", sess.Subscription.ID, err)
		return
	}
	start := time.Unix(ssub.CurrentPeriodStart, 0)
	end := time.Unix(ssub.CurrentPeriodEnd, 0)
	upd := SubscriptionUpdate{CurrentPeriodStart: &start, CurrentPeriodEnd: &end}
	if err := s.store.UpdateSubscriptionByUserID(userID, upd); err != nil {
		log.Printf("[STRIPE-WEBHOOK] period update failed user_id=%d: %v", userID, err)
	}
}

// handleInvoicePaid refreshes status and period bounds after a renewal.
// Invoice objects do not carry our metadata, so the parent subscription is
// fetched to resolve the user.
func (s *StripeService) handleInvoicePaid(inv *stripe.Invoice) {
	if inv.Subscription == nil {
		return
	}
	ssub, err := s.api.GetSubscription(inv.Subscription.ID)
	if err != nil {
		log.Printf("[STRIPE-WEBHOOK] invoice subscription fetch failed sub=%s: %v", inv.Subscription.ID, err)
		return
	}
	if ssub.Metadata["user_id"] == "" {
		log.Printf("[STRIPE-WEBHOOK] invoice subscription without user metadata sub=%s", inv.Subscription.ID)
		return
	}
	status := string(ssub.Status)
	start := time.Unix(ssub.CurrentPeriodStart, 0)
	end := time.Unix(ssub.CurrentPeriodEnd, 0)
	upd := SubscriptionUpdate{Status: &status, CurrentPeriodStart: &start, CurrentPeriodEnd: &end}
	if err := s.store.UpdateSubscriptionByStripeID(inv.Subscription.ID, upd); err != nil {
		log.Printf("[STRIPE-WEBHOOK] invoice update failed sub=%s: %v", inv.Subscription.ID, err)
		return
	}
	log.Printf("[STRIPE-WEBHOOK] subscription renewed sub=%s status=%s", inv.Subscription.ID, status)
}

// handleSubscriptionUpdated writes the full snapshot Stripe reported. Rows
// are located by the user id from metadata, falling back to the stored
// subscription reference when metadata is absent.
func (s *StripeService) handleSubscriptionUpdated(ssub *stripe.Subscription) {
	status := string(ssub.Status)
	start := time.Unix(ssub.CurrentPeriodStart, 0)
	end := time.Unix(ssub.CurrentPeriodEnd, 0)
	cancel := ssub.CancelAtPeriodEnd
	upd := SubscriptionUpdate{
		Status:             &status,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CancelAtPeriodEnd:  &cancel,
	}
	s.applyByMetadataOrID(ssub, upd, "updated")
}

func (s *StripeService) handleSubscriptionDeleted(ssub *stripe.Subscription) {
	status := StatusCanceled
	s.applyByMetadataOrID(ssub, SubscriptionUpdate{Status: &status}, "canceled")
}

func (s *StripeService) applyByMetadataOrID(ssub *stripe.Subscription, upd SubscriptionUpdate, action string) {
	if uid, err := strconv.Atoi(ssub.Metadata["user_id"]); err == nil {
		if err := s.store.UpdateSubscriptionByUserID(uid, upd); err != nil {
			log.Printf("[STRIPE-WEBHOOK] %s by user failed user_id=%d: %v", action, uid, err)
			return
		}
		log.Printf("[STRIPE-WEBHOOK] subscription %s user_id=%d", action, uid)
		return
	}
	if err := s.store.UpdateSubscriptionByStripeID(ssub.ID, upd); err != nil {
		log.Printf("[STRIPE-WEBHOOK] %s by id failed sub=%s: %v", action, ssub.ID, err)
		return
	}
	log.Printf("[STRIPE-WEBHOOK] subscription %s sub=%s", action, ssub.ID)
}
