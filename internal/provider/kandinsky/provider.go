// Package kandinsky implements the Fusion Brain Kandinsky adapter.
//
// Kandinsky is an image-generation service; the text endpoint is not
// called. Query returns a canned notice instead, but availability still
// reflects credential presence so the provider participates in listings
// and fan-out like any other.
package kandinsky

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"multisearch/internal/config"
	"multisearch/internal/models"
)

const apiKeyEnv = "KANDINSKY_API_KEY"

// Provider is the degraded-capability Kandinsky stub.
type Provider struct {
	id     string
	name   string
	models []string

	mu     sync.RWMutex
	apiKey string
}

// New constructs a Kandinsky provider instance.
func New(id string, cfg config.ProviderConfig) (*Provider, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("provider %q requires at least one model", id)
	}

	p := &Provider{
		id:     id,
		name:   cfg.Name,
		models: append([]string(nil), cfg.Models...),
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
	key := strings.TrimSpace(os.Getenv(apiKeyEnv))
	p.mu.Lock()
	p.apiKey = key
	p.mu.Unlock()
}

// Query returns the canned placeholder without any network call.
func (p *Provider) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	p.mu.RLock()
	apiKey := p.apiKey
	p.mu.RUnlock()

	if apiKey == "" {
		return models.Reply{}, errors.New("Kandinsky API key not configured")
	}

	text := fmt.Sprintf("Kandinsky AI ответ на запрос: %q. (Примечание: Kandinsky специализируется на генерации изображений)", prompt)
	return models.Reply{Text: text}, nil
}
