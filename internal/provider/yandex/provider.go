// Package yandex implements the YandexGPT foundation-models adapter.
// Authorization uses a short-lived IAM bearer token owned by the token
// lifecycle manager; this adapter only reads the current value.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"multisearch/internal/config"
	"multisearch/internal/models"
	"multisearch/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "multisearch/0.1"

	folderIDEnv = "YANDEX_FOLDER_ID"
)

// TokenSource yields the current IAM bearer token, if one is cached.
type TokenSource interface {
	CurrentToken() (string, bool)
}

// Provider implements YandexGPT completion API interactions.
type Provider struct {
	id       string
	name     string
	endpoint string
	models   []string
	tokens   TokenSource
	client   *http.Client

	mu       sync.RWMutex
	folderID string
}

// New constructs a YandexGPT provider instance.
func New(id string, cfg config.ProviderConfig, tokens TokenSource, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("token source must not be nil")
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
		models:   append([]string(nil), cfg.Models...),
		tokens:   tokens,
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

// Available requires both a cached IAM token and a folder id.
func (p *Provider) Available() bool {
	_, ok := p.tokens.CurrentToken()
	if !ok {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.folderID != ""
}

// ReloadCredentials re-reads the folder id from the environment. The IAM
// token itself is always read live from the token source.
func (p *Provider) ReloadCredentials() {
	folder := strings.TrimSpace(os.Getenv(folderIDEnv))
	p.mu.Lock()
	p.folderID = folder
	p.mu.Unlock()
}

// Query sends a single-prompt completion request.
func (p *Provider) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	return p.QueryWithHistory(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

// QueryWithHistory sends the full conversation. Yandex uses "text" rather
// than "content" for message bodies; non-assistant roles become user.
func (p *Provider) QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error) {
	token, ok := p.tokens.CurrentToken()
	p.mu.RLock()
	folderID := p.folderID
	p.mu.RUnlock()

	if !ok || folderID == "" {
		return models.Reply{}, errors.New("Yandex IAM token or Folder ID not configured")
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
		messages = append(messages, message{Role: role, Text: msg.Content})
	}

	payload := completionPayload{
		ModelURI: fmt.Sprintf("gpt://%s/%s/latest", folderID, provider.ResolveModel(p, opts)),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: provider.Temperature(opts),
			MaxTokens:   provider.MaxTokens(opts),
		},
		Messages: messages,
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
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Reply{}, fmt.Errorf("yandexgpt request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return models.Reply{}, parseAPIError(httpResp)
	}

	var providerResp completionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return models.Reply{}, fmt.Errorf("decode yandexgpt response: %w", err)
	}

	if len(providerResp.Result.Alternatives) == 0 {
		return models.Reply{}, errors.New("yandexgpt response contained no alternatives")
	}

	return models.Reply{
		Text:       providerResp.Result.Alternatives[0].Message.Text,
		TokensUsed: atoiLax(providerResp.Result.Usage.TotalTokens),
	}, nil
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type completionPayload struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

// Yandex reports usage counters as JSON strings.
type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
			TotalTokens      string `json:"totalTokens"`
		} `json:"usage"`
	} `json:"result"`
}

func atoiLax(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("yandexgpt error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("yandexgpt error: %s", apiErr.Error.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("yandexgpt error: %s", apiErr.Message)
		}
	}

	return fmt.Errorf("yandexgpt error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
