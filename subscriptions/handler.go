package subscriptions

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthFunc resolves the authenticated user from the request's bearer token.
type AuthFunc func(c *gin.Context) (userID int, email string, ok bool)

type Handler struct {
	store  Store
	stripe *StripeService
	auth   AuthFunc
}

func NewHandler(store Store, stripe *StripeService, auth AuthFunc) *Handler {
	return &Handler{store: store, stripe: stripe, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.GET("/check-subscription", h.checkSubscription)
	r.POST("/check-subscription", h.checkSubscription)
	r.POST("/create-checkout", h.createCheckout)
	r.POST("/stripe-webhook", h.stripeWebhook)
}

func (h *Handler) getPlans(c *gin.Context) {
	plans, err := h.store.GetPlans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (h *Handler) checkSubscription(c *gin.Context) {
	userID, _, ok := h.auth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	res, err := h.stripe.CheckStatus(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) createCheckout(c *gin.Context) {
	userID, email, ok := h.auth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	var body struct {
		PlanID int `json:"planId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Plan ID fehlt"})
		return
	}
	url, err := h.stripe.CreateCheckout(userID, email, body.PlanID)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan nicht gefunden"})
	case errors.Is(err, ErrMissingPriceID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe Price ID fehlt für diesen Plan"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiger request body"})
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing signature"})
		return
	}
	if err := h.stripe.ProcessWebhook(payload, sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
