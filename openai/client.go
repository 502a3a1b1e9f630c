package openai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	api   *openai.Client
	Model string
}

func NewClient() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{api: openai.NewClient(key), Model: model}
}

// GeneratePost produces social media post copy for the given platform. Used
// as the fallback when a platform has no generation webhook configured.
func (c *Client) GeneratePost(ctx context.Context, platform, topic, profileURL, details string) (string, error) {
	prompt := fmt.Sprintf(
		"Schreibe einen professionellen Social-Media-Post für %s.\nThema: %s\nProfil: %s\nWeitere Details: %s\nAntworte nur mit dem Post-Text.",
		platform, topic, profileURL, details)
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
