package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID           int       `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	Password     string    `db:"password"`
	Role         string    `db:"role"`
	ProfileImage string    `db:"profile_image"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		profile_image VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	// price is in cents; monthly_post_limit = -1 means unlimited
	createPlans := `
	CREATE TABLE IF NOT EXISTS subscription_plans (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		price INT NOT NULL DEFAULT 0,
		monthly_post_limit INT NOT NULL DEFAULT 0,
		stripe_price_id VARCHAR(100) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createPlans); err != nil {
		return err
	}

	createSubs := `
	CREATE TABLE IF NOT EXISTS user_subscriptions (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL UNIQUE,
		subscription_plan_id INT NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'incomplete',
		stripe_customer_id VARCHAR(100) NOT NULL DEFAULT '',
		stripe_subscription_id VARCHAR(100) NOT NULL DEFAULT '',
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL,
		cancel_at_period_end TINYINT(1) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (subscription_plan_id) REFERENCES subscription_plans(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	createUsage := `
	CREATE TABLE IF NOT EXISTS user_post_usage (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL UNIQUE,
		count INT NOT NULL DEFAULT 0,
		reset_date DATETIME NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsage); err != nil {
		return err
	}

	createSavedPosts := `
	CREATE TABLE IF NOT EXISTS saved_posts (
		id CHAR(36) PRIMARY KEY,
		user_id INT NOT NULL,
		platform VARCHAR(32) NOT NULL,
		post_text TEXT NOT NULL,
		image_url VARCHAR(512) NOT NULL DEFAULT '',
		tags JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		INDEX idx_saved_posts_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSavedPosts); err != nil {
		return err
	}
	return nil
}

// SeedDefaultPlans inserts the default plan catalog if none exist.
// Stripe price ids are left NULL; they are assigned per environment.
func SeedDefaultPlans() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM subscription_plans").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO subscription_plans (name, price, monthly_post_limit) VALUES ('Free', 0, 5)`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO subscription_plans (name, price, monthly_post_limit) VALUES ('Starter', 990, 30)`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO subscription_plans (name, price, monthly_post_limit) VALUES ('Business', 2990, -1)`); err != nil {
			return err
		}
	}
	return nil
}

// GetUserByEmail retrieves a user from DB by email
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, IFNULL(profile_image,''), created_at, updated_at FROM users WHERE email = ? LIMIT 1", email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByID retrieves a user by its ID
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, IFNULL(profile_image,''), created_at, updated_at FROM users WHERE id = ? LIMIT 1", id)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// UpdateUserProfile updates first/last name, keeping current values for empty fields
func UpdateUserProfile(id int, firstName, lastName string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	cur := GetUserByID(id)
	if cur == nil {
		return fmt.Errorf("user not found")
	}
	if firstName == "" {
		firstName = cur.FirstName
	}
	if lastName == "" {
		lastName = cur.LastName
	}
	_, err := db.Exec("UPDATE users SET first_name = ?, last_name = ?, updated_at = NOW() WHERE id = ?", firstName, lastName, id)
	return err
}

// UpdateUserPassword updates the password for the given user id
func UpdateUserPassword(id int, password string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET password = ?, updated_at = NOW() WHERE id = ?", password, id)
	return err
}

// CreateUser inserts a new user record and returns its id
func CreateUser(firstName, lastName, email, password, role string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("db is not initialized")
	}
	res, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
		firstName, lastName, email, password, role,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// EmailExists checks if a user with the given email exists
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
