package posts

import "time"

type SavedPost struct {
	ID        string    `json:"id"`
	UserID    int       `json:"user_id"`
	Platform  string    `json:"platform"`
	PostText  string    `json:"post_text"`
	ImageURL  string    `json:"image_url,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerateRequest is the payload forwarded to the generation webhook. The
// field names are the webhook's contract, not ours.
type GenerateRequest struct {
	Platform      string `json:"platform"`
	ProfileURL    string `json:"profilurl"`
	Topic         string `json:"postThema"`
	Details       string `json:"details"`
	GenerateImage bool   `json:"generateImage,omitempty"`
}

type GenerateResult struct {
	PostText       string `json:"post_text"`
	ImageGenerated bool   `json:"image_generated"`
	ImageURL       string `json:"image_url,omitempty"`
}
