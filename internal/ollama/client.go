package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to an Ollama-compatible model server. Streaming endpoints
// return newline-delimited JSON fragments; the client accumulates them into a
// single string and pushes each intermediate accumulation to a caller-supplied
// sink for live display.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		// No client-level timeout: streamed responses run until the server
		// closes the connection or the request context is canceled.
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type Model struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Sink receives the accumulated response text after every fragment.
type Sink func(accumulated string)

// Models fetches the server's available models from /api/tags.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	endpoint, err := c.endpointURL("/api/tags")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tags status %d", resp.StatusCode)
	}

	var payload struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	return payload.Models, nil
}

// Chat sends the message history to /api/chat with stream enabled and returns
// the full assistant response.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options, sink Sink) (string, error) {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"options":  opts,
	}
	return c.stream(ctx, "/api/chat", payload, sink)
}

// Generate is the stateless completion endpoint: a bare prompt, no history.
func (c *Client) Generate(ctx context.Context, model, prompt string, opts Options, sink Sink) (string, error) {
	payload := map[string]any{
		"model":   model,
		"prompt":  prompt,
		"stream":  true,
		"options": opts,
	}
	return c.stream(ctx, "/api/generate", payload, sink)
}

// Embeddings returns the embedding vector for a prompt. Unlike chat and
// generate this is a single JSON payload, not a fragment stream.
func (c *Client) Embeddings(ctx context.Context, model, prompt string) ([]float64, error) {
	endpoint, err := c.endpointURL("/api/embeddings")
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{"model": model, "prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("embeddings status %d", resp.StatusCode)
	}

	var payload struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	return payload.Embedding, nil
}

// stream drives a one-shot POST whose response is a finite sequence of
// newline-delimited JSON fragments terminated by connection close. A fragment
// with a "response" field contributes it verbatim; otherwise a "message"
// fragment contributes its content. Fragments that fail to parse are skipped.
func (c *Client) stream(ctx context.Context, path string, payload any, sink Sink) (string, error) {
	endpoint, err := c.endpointURL(path)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("model server status %d", resp.StatusCode)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var fragment struct {
			Response *string `json:"response"`
			Message  *struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(line, &fragment); err != nil {
			c.cfg.Logger.Warn().Err(err).Str("path", path).Msg("skipping unparseable fragment")
			continue
		}

		switch {
		case fragment.Response != nil:
			full.WriteString(*fragment.Response)
		case fragment.Message != nil:
			full.WriteString(fragment.Message.Content)
		}
		if sink != nil {
			sink(full.String())
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	return full.String(), nil
}

func (c *Client) endpointURL(path string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
