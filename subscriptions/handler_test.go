package subscriptions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func authAs(userID int, email string) AuthFunc {
	return func(c *gin.Context) (int, string, bool) {
		if c.GetHeader("Authorization") == "" {
			return 0, "", false
		}
		return userID, email, true
	}
}

func TestCheckSubscription_NoSubscription(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, newTestService(store, newFakeStripeAPI()), authAs(7, "user@example.test"))
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/check-subscription", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		HasActiveSubscription bool `json:"hasActiveSubscription"`
		Usage                 struct {
			Count int `json:"count"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.HasActiveSubscription {
		t.Fatalf("expected no active subscription")
	}
	if res.Usage.Count != 0 {
		t.Fatalf("usage count = %d, want 0", res.Usage.Count)
	}
}

func TestCheckSubscription_Unauthorized(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, newTestService(store, newFakeStripeAPI()), authAs(7, "user@example.test"))
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/check-subscription", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCreateCheckout_MissingPriceIDMessage(t *testing.T) {
	store := newFakeStore()
	store.plans[2] = Plan{ID: 2, Name: "Starter", Price: 990, MonthlyPostLimit: 30}
	h := NewHandler(store, newTestService(store, newFakeStripeAPI()), authAs(7, "user@example.test"))
	r := setupRouter(h)

	body, _ := json.Marshal(map[string]any{"planId": 2})
	req := httptest.NewRequest(http.MethodPost, "/create-checkout", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Error != "Stripe Price ID fehlt für diesen Plan" {
		t.Fatalf("error = %q", res.Error)
	}
	if len(store.subs) != 0 {
		t.Fatalf("misconfigured checkout must not touch the subscription row")
	}
}

func TestCreateCheckout_PlanNotFound(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, newTestService(store, newFakeStripeAPI()), authAs(7, "user@example.test"))
	r := setupRouter(h)

	body, _ := json.Marshal(map[string]any{"planId": 42})
	req := httptest.NewRequest(http.MethodPost, "/create-checkout", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateCheckout_ReturnsURL(t *testing.T) {
	store := newFakeStore()
	store.plans[2] = Plan{ID: 2, Name: "Starter", Price: 990, MonthlyPostLimit: 30, StripePriceID: "price_123"}
	api := newFakeStripeAPI()
	h := NewHandler(store, newTestService(store, api), authAs(7, "user@example.test"))
	r := setupRouter(h)

	body, _ := json.Marshal(map[string]any{"planId": 2})
	req := httptest.NewRequest(http.MethodPost, "/create-checkout", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.URL != api.sessionURL {
		t.Fatalf("url = %q", res.URL)
	}
	if sub := store.subs[7]; sub == nil || sub.Status != StatusIncomplete {
		t.Fatalf("pending row not created: %+v", sub)
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, newTestService(store, newFakeStripeAPI()), authAs(7, "user@example.test"))
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(checkoutCompletedEvent(7, 2)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(store.subs) != 0 {
		t.Fatalf("unsigned webhook must not mutate state")
	}
}

func TestStripeWebhook_ValidSignatureAcknowledged(t *testing.T) {
	store := newFakeStore()
	api := newFakeStripeAPI()
	h := NewHandler(store, newTestService(store, api), authAs(7, "user@example.test"))
	r := setupRouter(h)

	payload := []byte(`{"id": "evt_9", "object": "event", "api_version": "` + testAPIVersion + `", "type": "charge.refunded", "data": {"object": {}}}`)
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || !res.Received {
		t.Fatalf("expected {received: true}, body = %s", w.Body.String())
	}
}
