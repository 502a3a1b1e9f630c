package posts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// ParseError reports a generation-webhook response whose shape matched none
// of the known variants.
type ParseError struct {
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unerwartetes antwortformat des generierungs-webhooks: %s", e.Snippet)
}

// Fallback produces post text locally when a platform has no webhook
// configured.
type Fallback interface {
	GeneratePost(ctx context.Context, platform, topic, profileURL, details string) (string, error)
}

// Generator calls the per-platform external generation webhook.
type Generator struct {
	endpoints map[string]string
	httpc     *http.Client
	fallback  Fallback
}

var knownPlatforms = []string{"linkedin", "instagram", "x", "facebook"}

// NewGeneratorFromEnv reads GENERATION_WEBHOOK_<PLATFORM> URLs. fallback may
// be nil; platforms without a webhook then reject generation.
func NewGeneratorFromEnv(fallback Fallback) *Generator {
	endpoints := map[string]string{}
	for _, p := range knownPlatforms {
		if url := os.Getenv("GENERATION_WEBHOOK_" + strings.ToUpper(p)); url != "" {
			endpoints[p] = url
		}
	}
	return &Generator{
		endpoints: endpoints,
		httpc:     &http.Client{Timeout: 60 * time.Second},
		fallback:  fallback,
	}
}

func validPlatform(p string) bool {
	for _, k := range knownPlatforms {
		if k == p {
			return true
		}
	}
	return false
}

// Generate produces a post for the request's platform, via the external
// webhook when one is configured, otherwise via the fallback generator.
func (g *Generator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if !validPlatform(req.Platform) {
		return nil, fmt.Errorf("unbekannte plattform: %s", req.Platform)
	}
	url, ok := g.endpoints[req.Platform]
	if !ok {
		if g.fallback == nil {
			return nil, fmt.Errorf("kein generierungs-webhook für %s konfiguriert", req.Platform)
		}
		text, err := g.fallback.GeneratePost(ctx, req.Platform, req.Topic, req.ProfileURL, req.Details)
		if err != nil {
			return nil, err
		}
		log.Printf("[GENERATE] fallback generator used platform=%s", req.Platform)
		return &GenerateResult{PostText: text}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generierungs-webhook antwortete mit status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseWebhookResponse(raw)
}

// The webhook's response shape varies by flow: an array wrapping a nested
// message object, a flat object, or a bare JSON string. Each variant is tried
// in order; anything else is a ParseError.
type nestedItem struct {
	Message struct {
		Content struct {
			Result         string `json:"result"`
			ImageGenerated bool   `json:"imageGenerated"`
			ImageURL       string `json:"imageUrl"`
		} `json:"content"`
	} `json:"message"`
}

type flatResponse struct {
	PostText       string `json:"postText"`
	Result         string `json:"result"`
	ImageGenerated bool   `json:"imageGenerated"`
	ImageURL       string `json:"imageUrl"`
}

func parseWebhookResponse(raw []byte) (*GenerateResult, error) {
	var items []nestedItem
	if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
		content := items[0].Message.Content
		if content.Result != "" {
			return &GenerateResult{
				PostText:       content.Result,
				ImageGenerated: content.ImageGenerated,
				ImageURL:       content.ImageURL,
			}, nil
		}
	}

	var flat flatResponse
	if err := json.Unmarshal(raw, &flat); err == nil {
		text := flat.PostText
		if text == "" {
			text = flat.Result
		}
		if text != "" {
			return &GenerateResult{
				PostText:       text,
				ImageGenerated: flat.ImageGenerated,
				ImageURL:       flat.ImageURL,
			}, nil
		}
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return &GenerateResult{PostText: plain}, nil
	}

	snippet := string(raw)
	if len(snippet) > 120 {
		snippet = snippet[:120] + "..."
	}
	return nil, &ParseError{Snippet: snippet}
}
