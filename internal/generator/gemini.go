package generator

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.0-flash"

type geminiTransport struct {
	apiKey string
	model  string
	client *genai.Client
}

func newGeminiTransport(opts Options) (*geminiTransport, error) {
	t := &geminiTransport{apiKey: opts.APIKey, model: opts.Model}
	if t.model == "" {
		t.model = geminiModel
	}
	return t, nil
}

// connect creates the client on first use; construction needs a context.
func (t *geminiTransport) connect(ctx context.Context) (*genai.Client, error) {
	if t.client != nil {
		return t.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  t.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	t.client = c
	return c, nil
}

func (t *geminiTransport) Complete(ctx context.Context, prompt string) (string, error) {
	c, err := t.connect(ctx)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := c.Models.GenerateContent(ctx, t.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", newError(KindInvalidResponse, "remote", "empty response from %s", t.model)
	}
	return text, nil
}
