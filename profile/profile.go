package profile

import (
	"net/http"
	"strings"
	"time"

	"postgen-backend/login"
	"postgen-backend/migrations"
	"postgen-backend/quota"
	"postgen-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	store subscriptions.Store
}

func NewHandler(store subscriptions.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/profile", h.getProfile)
	r.PUT("/profile", h.updateProfile)
}

func currentUser(c *gin.Context) *migrations.User {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		return nil
	}
	email, ok := login.GetEmailFromToken(token)
	if !ok {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

// getProfile returns the user together with a subscription/usage summary so
// the app shell needs a single fetch on start.
func (h *Handler) getProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	res := gin.H{
		"id":            user.ID,
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"email":         user.Email,
		"profile_image": user.ProfileImage,
		"created_at":    user.CreatedAt.Format(time.RFC3339),
	}
	if sub, err := h.store.GetActiveSubscription(user.ID); err == nil && sub != nil {
		res["subscription"] = sub
		if usage, err := h.store.GetUsage(user.ID); err == nil && usage != nil {
			remaining, unlimited := quota.Remaining(sub.Plan.MonthlyPostLimit, usage.Count)
			if unlimited {
				res["remaining_posts"] = "unlimited"
			} else {
				res["remaining_posts"] = remaining
			}
			res["usage"] = usage
		}
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) updateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	if err := migrations.UpdateUserProfile(user.ID, body.FirstName, body.LastName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Profil konnte nicht aktualisiert werden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
