package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/wallcrop/pkg/client"
)

// DefaultTimeout bounds a single query when the context has no deadline
const DefaultTimeout = 300 * time.Second

// DefaultURL is used when no server URL is configured
const DefaultURL = "http://localhost:11435/api/chat"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", ollamaURL)
	}

	// drop any path such as /api/chat, the SDK adds its own
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// options returns model specific sampling parameters
func options(model string, jsonMode bool) map[string]any {
	opts := map[string]any{}
	if jsonMode {
		opts["temperature"] = 0.0
	}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		opts["top_p"] = 0.8
		opts["num_ctx"] = 4096
	}
	return opts
}

// Query sends the prompt and image to the chat endpoint and returns the reply text
func (c *Client) Query(ctx context.Context, req client.Request) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	msg := api.Message{
		Role:    "user",
		Content: req.Prompt,
	}
	if len(req.Image) > 0 {
		msg.Images = []api.ImageData{api.ImageData(req.Image)}
	}

	streamFalse := false
	chat := &api.ChatRequest{
		Model:    req.Model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Options:  options(req.Model, req.JSON),
	}
	if req.JSON {
		chat.Format = json.RawMessage(`"json"`)
	}

	var reply strings.Builder
	err := c.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	if reply.Len() == 0 {
		return "", errors.New("empty response from ollama")
	}
	return reply.String(), nil
}
