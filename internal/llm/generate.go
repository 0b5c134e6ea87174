package llm

import (
	"context"
	"fmt"
	"strings"
)

// TextRequest is a single-turn, tool-less prompt.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// GenerateText sends one prompt without tools and returns the response.
// An empty completion is an error.
func GenerateText(ctx context.Context, c Client, tr TextRequest) (*ChatResponse, error) {
	return generate(ctx, c, tr, nil)
}

// GenerateVision sends one prompt paired with an image.
func GenerateVision(ctx context.Context, c Client, img Image, tr TextRequest) (*ChatResponse, error) {
	if img.URL == "" && len(img.Data) == 0 {
		return nil, fmt.Errorf("image has neither URL nor data")
	}
	return generate(ctx, c, tr, []Image{img})
}

func generate(ctx context.Context, c Client, tr TextRequest, images []Image) (*ChatResponse, error) {
	resp, err := c.Chat(ctx, &Request{
		Model:       tr.Model,
		System:      tr.System,
		Messages:    []Message{{Role: RoleUser, Content: tr.Prompt, Images: images}},
		MaxTokens:   tr.MaxTokens,
		Temperature: tr.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return nil, fmt.Errorf("model %s returned no text", tr.Model)
	}
	return resp, nil
}

// Float returns a pointer to f, for Request.Temperature.
func Float(f float64) *float64 {
	return &f
}
