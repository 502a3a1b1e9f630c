package posts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseWebhookResponse_ArrayWrappedNestedObject(t *testing.T) {
	raw := []byte(`[{"message":{"content":{"result":"Ein toller Post","imageGenerated":true,"imageUrl":"https://img.test/1.png"}}}]`)
	res, err := parseWebhookResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.PostText != "Ein toller Post" {
		t.Fatalf("post text = %q", res.PostText)
	}
	if !res.ImageGenerated || res.ImageURL != "https://img.test/1.png" {
		t.Fatalf("image fields not extracted: %+v", res)
	}
}

func TestParseWebhookResponse_FlatObject(t *testing.T) {
	for _, raw := range []string{
		`{"postText":"Flacher Post"}`,
		`{"result":"Flacher Post"}`,
	} {
		res, err := parseWebhookResponse([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if res.PostText != "Flacher Post" {
			t.Fatalf("post text = %q for %s", res.PostText, raw)
		}
	}
}

func TestParseWebhookResponse_JSONString(t *testing.T) {
	res, err := parseWebhookResponse([]byte(`"Nur Text"`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.PostText != "Nur Text" {
		t.Fatalf("post text = %q", res.PostText)
	}
}

func TestParseWebhookResponse_UnknownShapeIsParseError(t *testing.T) {
	for _, raw := range []string{
		`{"something":"else"}`,
		`[]`,
		`[{"message":{}}]`,
		`12345`,
		`not json at all`,
	} {
		_, err := parseWebhookResponse([]byte(raw))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError for %s, got %v", raw, err)
		}
	}
}

func TestGenerate_CallsConfiguredWebhook(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"postText":"Webhook Post","imageGenerated":false}`))
	}))
	defer srv.Close()
	t.Setenv("GENERATION_WEBHOOK_LINKEDIN", srv.URL)

	g := NewGeneratorFromEnv(nil)
	res, err := g.Generate(context.Background(), &GenerateRequest{
		Platform:   "linkedin",
		ProfileURL: "https://linkedin.com/in/test",
		Topic:      "Go Entwicklung",
		Details:    "kurz halten",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.PostText != "Webhook Post" {
		t.Fatalf("post text = %q", res.PostText)
	}
	if gotPayload["profilurl"] != "https://linkedin.com/in/test" || gotPayload["postThema"] != "Go Entwicklung" {
		t.Fatalf("webhook payload contract broken: %+v", gotPayload)
	}
	if _, ok := gotPayload["generateImage"]; ok {
		t.Fatalf("generateImage must be omitted when false")
	}
}

func TestGenerate_WebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv("GENERATION_WEBHOOK_X", srv.URL)

	g := NewGeneratorFromEnv(nil)
	if _, err := g.Generate(context.Background(), &GenerateRequest{Platform: "x", ProfileURL: "u", Topic: "t"}); err == nil {
		t.Fatalf("expected error on non-200 webhook response")
	}
}

type stubFallback struct {
	text string
	err  error
}

func (s *stubFallback) GeneratePost(ctx context.Context, platform, topic, profileURL, details string) (string, error) {
	return s.text, s.err
}

func TestGenerate_FallbackWhenNoWebhookConfigured(t *testing.T) {
	g := NewGeneratorFromEnv(&stubFallback{text: "Fallback Post"})
	res, err := g.Generate(context.Background(), &GenerateRequest{Platform: "facebook", ProfileURL: "u", Topic: "t"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.PostText != "Fallback Post" {
		t.Fatalf("post text = %q", res.PostText)
	}
}

func TestGenerate_UnknownPlatform(t *testing.T) {
	g := NewGeneratorFromEnv(&stubFallback{text: "x"})
	if _, err := g.Generate(context.Background(), &GenerateRequest{Platform: "myspace", ProfileURL: "u", Topic: "t"}); err == nil {
		t.Fatalf("expected error for unknown platform")
	}
}
