package main

import (
	"log"
	"net/http"
	"strings"

	"postgen-backend/conn"
	mailer "postgen-backend/email"
	"postgen-backend/login"
	"postgen-backend/migrations"
	"postgen-backend/openai"
	"postgen-backend/posts"
	"postgen-backend/profile"
	"postgen-backend/quota"
	"postgen-backend/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[MAIN] no .env file loaded: %v", err)
	}

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[MAIN] database connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[MAIN] migration failed: %v", err)
	}
	if err := migrations.SeedDefaultPlans(); err != nil {
		log.Fatalf("[MAIN] plan seed failed: %v", err)
	}

	repo := subscriptions.NewRepository(db)
	stripeSvc, err := subscriptions.NewStripeFromEnv(repo)
	if err != nil {
		log.Fatalf("[MAIN] stripe configuration invalid: %v", err)
	}
	stripeSvc.OnActivation(func(userID, planID int) {
		user := migrations.GetUserByID(userID)
		plan, err := repo.GetPlanByID(planID)
		if user == nil || err != nil || plan == nil {
			return
		}
		if err := mailer.SendSubscriptionActive(user.Email, plan.Name); err != nil {
			log.Printf("[MAIN] subscription email failed for user %d: %v", userID, err)
		}
	})

	quota.RegisterUserResolver(func(email string) *quota.UserLite {
		u := migrations.GetUserByEmail(email)
		if u == nil {
			return nil
		}
		return &quota.UserLite{ID: u.ID, Email: u.Email}
	})
	login.RegisterFreePlanActivator(func(userID int) error {
		return subscriptions.ActivateFreePlan(repo, userID)
	})

	authFn := func(c *gin.Context) (int, string, bool) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		email, ok := login.GetEmailFromToken(token)
		if !ok {
			return 0, "", false
		}
		u := migrations.GetUserByEmail(email)
		if u == nil {
			return 0, "", false
		}
		return u.ID, u.Email, true
	}

	validator := quota.NewValidator(repo)
	generator := posts.NewGeneratorFromEnv(openai.NewClient())

	r := gin.Default()
	r.Use(corsMiddleware())

	r.POST("/login", login.Handler)
	r.POST("/register", login.RegisterHandler)
	r.GET("/session", login.SessionHandler)
	r.POST("/logout", login.LogoutHandler)
	r.POST("/refresh", login.RefreshHandler)
	r.POST("/change-password", login.ChangePasswordHandler)

	subscriptions.NewHandler(repo, stripeSvc, authFn).RegisterRoutes(r)
	posts.NewHandler(posts.NewRepository(db), generator, validator).RegisterRoutes(r)
	profile.NewHandler(repo).RegisterRoutes(r)

	if err := r.Run(":8080"); err != nil {
		log.Fatalf("[MAIN] server exited: %v", err)
	}
}
