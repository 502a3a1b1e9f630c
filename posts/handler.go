package posts

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"postgen-backend/quota"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	store     Store
	generator *Generator
	gate      *quota.Validator
}

func NewHandler(store Store, generator *Generator, gate *quota.Validator) *Handler {
	return &Handler{store: store, generator: generator, gate: gate}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/generate-post", h.gate.Middleware(), h.generatePost)
	r.GET("/saved-posts", h.listSavedPosts)
	r.POST("/saved-posts", h.createSavedPost)
	r.PUT("/saved-posts/:id/tags", h.updateTags)
	r.DELETE("/saved-posts/:id", h.deleteSavedPost)
}

func (h *Handler) generatePost(c *gin.Context) {
	userID := c.GetInt("user_id")
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Platform == "" || req.Topic == "" || req.ProfileURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), &req)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Antwort des Generators konnte nicht verarbeitet werden"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Fehler beim Generieren des Posts"})
		return
	}
	// The gate middleware pre-checked the quota; the guarded increment here is
	// authoritative. A lost race means the post was generated but not counted,
	// never that the stored count exceeds the limit.
	if err := h.gate.Consume(userID); err != nil {
		log.Printf("[GENERATE] usage increment failed user_id=%d: %v", userID, err)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listSavedPosts(c *gin.Context) {
	u, ok := quota.ResolveUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	list, err := h.store.List(u.ID, c.Query("platform"), c.Query("tag"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) createSavedPost(c *gin.Context) {
	u, ok := quota.ResolveUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	var p SavedPost
	if err := c.ShouldBindJSON(&p); err != nil || p.Platform == "" || p.PostText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	p.UserID = u.ID
	if err := h.store.Create(&p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updateTags(c *gin.Context) {
	u, ok := quota.ResolveUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	if err := h.store.UpdateTags(u.ID, c.Param("id"), body.Tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post nicht gefunden"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) deleteSavedPost(c *gin.Context) {
	u, ok := quota.ResolveUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Nicht autorisiert"})
		return
	}
	if err := h.store.Delete(u.ID, c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post nicht gefunden"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
