// Package claude implements the Anthropic messages API adapter.
package claude

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
	apiVersion      = "2023-06-01"
)

// Provider implements Anthropic Claude API interactions.
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

// New constructs a Claude provider instance.
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

// Available reports whether the API key is currently present.
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

// Query sends a single-prompt message request.
func (p *Provider) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	return p.QueryWithHistory(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

// QueryWithHistory sends the full conversation. Anthropic requires strict
// user/assistant alternation starting with a user message; any non-assistant
// role is normalized to user.
func (p *Provider) QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error) {
	p.mu.RLock()
	apiKey := p.apiKey
	p.mu.RUnlock()

	if apiKey == "" {
		return models.Reply{}, errors.New("Anthropic API key not configured")
	}
	if len(history) == 0 {
		return models.Reply{}, errors.New("conversation must contain at least one message")
	}

	messages := make([]message, 0, len(history))
	for _, msg := range history {
		role := msg.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		messages = append(messages, message{Role: role, Content: msg.Content})
	}

	payload := messagePayload{
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
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Reply{}, fmt.Errorf("claude request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return models.Reply{}, parseAPIError(httpResp)
	}

	var providerResp messageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return models.Reply{}, fmt.Errorf("decode claude response: %w", err)
	}

	return providerResp.toReply()
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagePayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (r messageResponse) toReply() (models.Reply, error) {
	if len(r.Content) == 0 {
		return models.Reply{}, errors.New("claude response missing content blocks")
	}

	text := strings.Builder{}
	for _, block := range r.Content {
		if block.Type != "text" {
			return models.Reply{}, fmt.Errorf("claude returned unsupported content block type %q", block.Type)
		}
		text.WriteString(block.Text)
	}

	return models.Reply{
		Text:       text.String(),
		TokensUsed: r.Usage.InputTokens + r.Usage.OutputTokens,
	}, nil
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("claude error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("claude error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("claude error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
