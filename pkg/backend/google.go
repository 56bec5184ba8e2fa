package backend

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient implements Client for Gemini models.
type GoogleClient struct {
	client *genai.Client
	model  string
}

// NewGoogleClient creates a client for the given Gemini model.
func NewGoogleClient(apiKey, model string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if model == "" {
		model = "gemini-2.0-pro"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleClient{client: client, model: model}, nil
}

// Name returns the client identifier.
func (c *GoogleClient) Name() string {
	return "google"
}

// Complete sends a prompt to Gemini and returns the text reply.
func (c *GoogleClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("google returned no candidates")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}
	return content, nil
}
