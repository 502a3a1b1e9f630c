package login

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mailer "postgen-backend/email"
	"postgen-backend/migrations"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// blacklist for manual logout (tokens -> expiry). Not persisted; acceptable
// for MVP. Guarded by blacklistMu, handlers run concurrently.
var (
	blacklistMu sync.Mutex
	blacklist   = map[string]int64{}
)

func blacklistToken(token string, exp int64) {
	blacklistMu.Lock()
	blacklist[token] = exp
	blacklistMu.Unlock()
}

func isBlacklisted(token string) bool {
	blacklistMu.Lock()
	exp, ok := blacklist[token]
	blacklistMu.Unlock()
	return ok && exp >= time.Now().Unix()
}

// tokenPayload minimal JWT-like payload
type tokenPayload struct {
	Email string `json:"email"`
	Exp   int64  `json:"exp"`
	Rem   bool   `json:"rem"`
	Jti   string `json:"jti"`
}

func sessionDuration(remember bool) time.Duration {
	defHours := 12
	if v := os.Getenv("SESSION_DEFAULT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			defHours = n
		}
	}
	remDays := 30
	if v := os.Getenv("SESSION_REMEMBER_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			remDays = n
		}
	}
	if remember {
		return time.Hour * 24 * time.Duration(remDays)
	}
	return time.Hour * time.Duration(defHours)
}

func sessionSecret() []byte {
	s := os.Getenv("SESSION_SECRET")
	if s == "" {
		s = "dev-insecure-secret"
	}
	return []byte(s)
}

// SignToken issues a session token for the given email.
func SignToken(email string, dur time.Duration, remember bool) (string, int64) {
	exp := time.Now().Add(dur).Unix()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, _ := json.Marshal(tokenPayload{Email: email, Exp: exp, Rem: remember, Jti: uuid.NewString()})
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig, exp
}

func parseToken(token string) (tokenPayload, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenPayload{}, false
	}
	unsigned := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(unsigned))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return tokenPayload{}, false
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenPayload{}, false
	}
	var tp tokenPayload
	if err := json.Unmarshal(pb, &tp); err != nil {
		return tokenPayload{}, false
	}
	if tp.Exp < time.Now().Unix() {
		return tokenPayload{}, false
	}
	if isBlacklisted(token) {
		return tokenPayload{}, false
	}
	return tp, true
}

// GetEmailFromToken validates signature + expiry and returns email
func GetEmailFromToken(token string) (string, bool) {
	tp, ok := parseToken(token)
	if !ok {
		return "", false
	}
	return tp.Email, true
}

// --- Free plan activation hook ---
// New users get the free plan self-activated; the subscription layer
// registers the implementation so this package stays decoupled from it.

var freePlanActivator = func(userID int) error { return nil }

// RegisterFreePlanActivator allows main to provide the activation step.
func RegisterFreePlanActivator(fn func(userID int) error) { freePlanActivator = fn }

func userResponse(user *migrations.User) gin.H {
	return gin.H{
		"id":            user.ID,
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"email":         user.Email,
		"full_name":     user.FirstName + " " + user.LastName,
		"profile_image": user.ProfileImage,
		"created_at":    user.CreatedAt.Format(time.RFC3339),
		"updated_at":    user.UpdatedAt.Format(time.RFC3339),
	}
}

func Handler(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}

	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	creds.Password = strings.TrimSpace(creds.Password)

	user := migrations.GetUserByEmail(creds.Email)
	if user != nil && user.Password == creds.Password {
		token, exp := SignToken(user.Email, sessionDuration(creds.Remember), creds.Remember)
		c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user), "expires_at": exp, "remember": creds.Remember})
	} else {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Ungültige Anmeldedaten"})
	}
}

func SessionHandler(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Ungültiges Token"})
		return
	}
	tp, ok := parseToken(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Ungültiges Token"})
		return
	}
	user := migrations.GetUserByEmail(tp.Email)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Benutzer nicht gefunden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user)})
}

// LogoutHandler invalidates the token
func LogoutHandler(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token erforderlich"})
		return
	}
	// Blacklist until its natural expiry (best effort)
	if tp, ok := parseToken(token); ok {
		blacklistToken(token, tp.Exp)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Abgemeldet"})
}

type RegisterPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func RegisterHandler(c *gin.Context) {
	var p RegisterPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	if p.Email == "" || p.Password == "" || p.FirstName == "" || p.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pflichtfelder fehlen"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if exists, err := migrations.EmailExists(p.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fehler bei der Benutzerprüfung"})
		return
	} else if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "E-Mail ist bereits registriert"})
		return
	}
	userID, err := migrations.CreateUser(p.FirstName, p.LastName, p.Email, p.Password, "user")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Benutzer konnte nicht erstellt werden"})
		return
	}
	if err := freePlanActivator(userID); err != nil {
		// The user can still subscribe manually; do not fail the signup.
		log.Printf("[LOGIN] free plan activation failed for user %d: %v", userID, err)
	}
	if err := mailer.SendWelcome(p.Email); err != nil {
		log.Printf("[LOGIN] send welcome email failed for %s: %v", p.Email, err)
	}
	c.Status(http.StatusCreated)
}

type ChangePasswordPayload struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func ChangePasswordHandler(c *gin.Context) {
	var p ChangePasswordPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültige Daten"})
		return
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	email, ok := GetEmailFromToken(token)
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Ungültiges Token"})
		return
	}
	user := migrations.GetUserByEmail(email)
	if user == nil || user.Password != p.OldPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Ungültige Anmeldedaten"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, p.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Passwort konnte nicht aktualisiert werden"})
		return
	}
	if err := mailer.SendPasswordChanged(user.Email); err != nil {
		log.Printf("[LOGIN] send password change email failed for %s: %v", user.Email, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Passwort aktualisiert"})
}

// RefreshHandler issues a new token preserving the remember flag while the
// previous token is blacklisted.
func RefreshHandler(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token erforderlich"})
		return
	}
	tp, ok := parseToken(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token ungültig oder abgelaufen"})
		return
	}
	dur := time.Until(time.Unix(tp.Exp, 0))
	baseDur := sessionDuration(tp.Rem)
	if dur < baseDur/2 {
		dur = baseDur
	}
	newToken, newExp := SignToken(tp.Email, dur, tp.Rem)
	blacklistToken(token, tp.Exp)
	c.JSON(http.StatusOK, gin.H{"token": newToken, "expires_at": newExp, "remember": tp.Rem})
}
