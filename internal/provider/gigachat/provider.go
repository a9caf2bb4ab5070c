// Package gigachat implements the Sber GigaChat adapter.
//
// Two credential shapes are supported: GIGACHAT_AUTH_TOKEN holds the Basic
// authorization data used to mint a short-lived access token through the
// OAuth endpoint, while GIGACHAT_ACCESS_TOKEN supplies a pre-issued access
// token that bypasses the exchange entirely.
package gigachat

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
	"time"

	"github.com/google/uuid"

	"multisearch/internal/config"
	"multisearch/internal/models"
	"multisearch/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
	userAgent       = "multisearch/0.1"

	authTokenEnv   = "GIGACHAT_AUTH_TOKEN"
	accessTokenEnv = "GIGACHAT_ACCESS_TOKEN"

	oauthScope = "scope=GIGACHAT_API_PERS"

	// Minted access tokens live 30 minutes; renew 5 minutes early.
	accessTokenLifetime = 30 * time.Minute
	accessTokenMargin   = 5 * time.Minute
)

// Provider implements GigaChat API interactions.
type Provider struct {
	id            string
	name          string
	endpoint      string
	oauthEndpoint string
	models        []string
	client        *http.Client

	mu          sync.RWMutex
	authToken   string
	preissued   string
	accessToken string
	tokenExpiry time.Time
}

// New constructs a GigaChat provider instance.
func New(id string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if strings.TrimSpace(cfg.OAuthEndpoint) == "" {
		return nil, errors.New("oauth endpoint must not be empty")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("provider %q requires at least one model", id)
	}

	p := &Provider{
		id:            id,
		name:          cfg.Name,
		endpoint:      cfg.Endpoint,
		oauthEndpoint: cfg.OAuthEndpoint,
		models:        append([]string(nil), cfg.Models...),
		client:        client,
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

// Available reports whether either credential shape is present.
func (p *Provider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.authToken != "" || p.preissued != ""
}

// ReloadCredentials re-reads both credential variables from the environment.
func (p *Provider) ReloadCredentials() {
	auth := strings.TrimSpace(os.Getenv(authTokenEnv))
	pre := strings.TrimSpace(os.Getenv(accessTokenEnv))
	p.mu.Lock()
	p.authToken = auth
	p.preissued = pre
	p.mu.Unlock()
}

// accessTokenFor returns a bearer token for the chat call, minting one via
// the OAuth exchange when no valid cached or pre-issued token exists.
func (p *Provider) accessTokenFor(ctx context.Context) (string, error) {
	p.mu.RLock()
	preissued := p.preissued
	authToken := p.authToken
	cached := p.accessToken
	expiry := p.tokenExpiry
	p.mu.RUnlock()

	if preissued != "" {
		return preissued, nil
	}
	if cached != "" && time.Until(expiry) > accessTokenMargin {
		return cached, nil
	}
	if authToken == "" {
		return "", errors.New("GigaChat credentials not configured")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauthEndpoint, strings.NewReader(oauthScope))
	if err != nil {
		return "", fmt.Errorf("construct oauth request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeForm)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("RqUID", uuid.NewString())
	httpReq.Header.Set("Authorization", "Basic "+authToken)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gigachat oauth request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return "", fmt.Errorf("failed to get GigaChat access token: status %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&oauthResp); err != nil {
		return "", fmt.Errorf("decode gigachat oauth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", errors.New("gigachat oauth response missing access_token")
	}

	p.mu.Lock()
	p.accessToken = oauthResp.AccessToken
	p.tokenExpiry = time.Now().Add(accessTokenLifetime)
	p.mu.Unlock()

	return oauthResp.AccessToken, nil
}

// Query sends a single-prompt chat completion.
func (p *Provider) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	return p.QueryWithHistory(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

// QueryWithHistory sends the full conversation; non-assistant roles are
// normalized to user for the GigaChat message schema.
func (p *Provider) QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error) {
	if !p.Available() {
		return models.Reply{}, errors.New("GigaChat credentials not configured")
	}
	if len(history) == 0 {
		return models.Reply{}, errors.New("conversation must contain at least one message")
	}

	token, err := p.accessTokenFor(ctx)
	if err != nil {
		return models.Reply{}, err
	}

	messages := make([]chatMessage, 0, len(history))
	for _, msg := range history {
		role := msg.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: msg.Content})
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
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Reply{}, fmt.Errorf("gigachat request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return models.Reply{}, fmt.Errorf("gigachat error status %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return models.Reply{}, fmt.Errorf("decode gigachat response: %w", err)
	}

	if len(providerResp.Choices) == 0 {
		return models.Reply{}, errors.New("gigachat response contained no choices")
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
