package factory

import (
	"testing"

	"multisearch/internal/config"
	"multisearch/internal/provider"
)

type staticTokens struct{}

func (staticTokens) CurrentToken() (string, bool) { return "", false }

func TestRegisterConfiguredProviders(t *testing.T) {
	registry := provider.NewRegistry()

	if err := RegisterConfiguredProviders(config.Default(), registry, staticTokens{}); err != nil {
		t.Fatalf("register providers: %v", err)
	}

	want := []string{"yandexgpt", "gigachat", "kandinsky", "chatgpt_ru", "openai", "claude"}
	got := registry.IDs()
	if len(got) != len(want) {
		t.Fatalf("registered %d providers, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i] != id {
			t.Fatalf("provider %d = %q, want %q", i, got[i], id)
		}
	}
}

func TestRegisteredAdaptersKeepHistoryCapability(t *testing.T) {
	registry := provider.NewRegistry()

	if err := RegisterConfiguredProviders(config.Default(), registry, staticTokens{}); err != nil {
		t.Fatalf("register providers: %v", err)
	}

	for _, id := range []string{"yandexgpt", "gigachat", "chatgpt_ru", "openai", "claude"} {
		a, ok := registry.Resolve(id)
		if !ok {
			t.Fatalf("provider %q missing", id)
		}
		if _, ok := a.(provider.HistoryQuerier); !ok {
			t.Errorf("provider %q lost its conversation capability", id)
		}
	}

	// Kandinsky never supported conversations.
	a, _ := registry.Resolve("kandinsky")
	if _, ok := a.(provider.HistoryQuerier); ok {
		t.Error("kandinsky should not advertise conversation support")
	}
}

func TestRegisterConfiguredProvidersNilRegistry(t *testing.T) {
	if err := RegisterConfiguredProviders(config.Default(), nil, staticTokens{}); err == nil {
		t.Fatal("nil registry must be rejected")
	}
}
