package posts

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Store is the saved-post persistence surface. Every query is scoped by the
// owning user id.
type Store interface {
	List(userID int, platform, tag string) ([]SavedPost, error)
	Create(p *SavedPost) error
	UpdateTags(userID int, id string, tags []string) error
	Delete(userID int, id string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns the user's saved posts, newest first, optionally filtered by
// platform and/or tag.
func (r *Repository) List(userID int, platform, tag string) ([]SavedPost, error) {
	query := `SELECT id, user_id, platform, post_text, image_url, tags, created_at
		FROM saved_posts WHERE user_id = ?`
	args := []interface{}{userID}
	if platform != "" {
		query += ` AND platform = ?`
		args = append(args, platform)
	}
	if tag != "" {
		query += ` AND JSON_CONTAINS(tags, JSON_QUOTE(?))`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SavedPost{}
	for rows.Next() {
		var p SavedPost
		var tags sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Platform, &p.PostText, &p.ImageURL, &tags, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Tags = decodeTags(tags)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Create(p *SavedPost) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`INSERT INTO saved_posts (id, user_id, platform, post_text, image_url, tags, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Platform, p.PostText, p.ImageURL, tags, p.CreatedAt)
	return err
}

func (r *Repository) UpdateTags(userID int, id string, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`UPDATE saved_posts SET tags = ? WHERE id = ? AND user_id = ?`, encoded, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *Repository) Delete(userID int, id string) error {
	res, err := r.db.Exec(`DELETE FROM saved_posts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return []string{}
	}
	return tags
}
