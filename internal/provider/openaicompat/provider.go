// Package openaicompat implements the chat-completions wire format shared
// by OpenAI and OpenAI-compatible upstreams. One instance is registered per
// upstream (openai, chatgpt_ru), differing only in endpoint and key source.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"multisearch/internal/config"
	"multisearch/internal/models"
	"multisearch/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "multisearch/0.1"
)

// Provider implements the Adapter interface for chat-completions APIs.
type Provider struct {
	id       string
	name     string
	endpoint string
	keyEnv   string
	models   []string
	client   *http.Client

	mu     sync.RWMutex
	apiKey string
}

// New constructs an OpenAI-compatible provider instance.
func New(id string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("provider %q requires at least one model", id)
	}

	p := &Provider{
		id:       id,
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		keyEnv:   cfg.KeyEnv,
		models:   append([]string(nil), cfg.Models...),
		client:   client,
	}
	p.ReloadCredentials()
	return p, nil
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Models() []string {
	result := make([]string, len(p.models))
	copy(result, p.models)
	return result
}

// Available reports whether the API key is currently present. It never
// makes a network call.
func (p *Provider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiKey != ""
}

// ReloadCredentials re-reads the API key from the environment.
func (p *Provider) ReloadCredentials() {
	key := strings.TrimSpace(os.Getenv(p.keyEnv))
	p.mu.Lock()
	p.apiKey = key
	p.mu.Unlock()
}

// Query sends a single-prompt chat completion.
func (p *Provider) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	return p.QueryWithHistory(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

// QueryWithHistory sends the full conversation so far.
func (p *Provider) QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error) {
	p.mu.RLock()
	apiKey := p.apiKey
	p.mu.RUnlock()

	if apiKey == "" {
		return models.Reply{}, fmt.Errorf("%s API key not configured", p.name)
	}
	if len(history) == 0 {
		return models.Reply{}, errors.New("conversation must contain at least one message")
	}

	messages := make([]chatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	payload := chatPayload{
		Model:       provider.ResolveModel(p, opts),
		Messages:    messages,
		Temperature: provider.Temperature(opts),
		MaxTokens:   provider.MaxTokens(opts),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.Reply{}, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Reply{}, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Reply{}, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return models.Reply{}, parseAPIError(p.name, httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return models.Reply{}, fmt.Errorf("decode %s response: %w", p.name, err)
	}

	if len(providerResp.Choices) == 0 {
		return models.Reply{}, fmt.Errorf("%s response contained no choices", p.name)
	}

	return models.Reply{
		Text:       providerResp.Choices[0].Message.Content,
		TokensUsed: providerResp.Usage.TotalTokens,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseAPIError(name string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("%s error status %d and failed to read body: %w", name, resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s error (%s): %s", name, apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("%s error status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
}
