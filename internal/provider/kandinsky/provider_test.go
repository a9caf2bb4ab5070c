package kandinsky

import (
	"context"
	"strings"
	"testing"

	"multisearch/internal/config"
	"multisearch/internal/models"
)

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Name:   "Kandinsky AI",
		Models: []string{"kandinsky-3.0"},
		KeyEnv: "KANDINSKY_API_KEY",
	}
}

func TestQueryReturnsPlaceholder(t *testing.T) {
	t.Setenv("KANDINSKY_API_KEY", "key")

	p, err := New("kandinsky", testConfig())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	reply, err := p.Query(context.Background(), "нарисуй кота", models.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(reply.Text, `"нарисуй кота"`) {
		t.Fatalf("placeholder should echo the prompt, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "генерации изображений") {
		t.Fatalf("placeholder should mention image generation, got %q", reply.Text)
	}
	if reply.TokensUsed != 0 {
		t.Fatalf("placeholder reply should not report token usage, got %d", reply.TokensUsed)
	}
}

func TestQueryWithoutKey(t *testing.T) {
	t.Setenv("KANDINSKY_API_KEY", "")

	p, err := New("kandinsky", testConfig())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if p.Available() {
		t.Fatal("provider should be unavailable without a key")
	}

	_, err = p.Query(context.Background(), "q", models.QueryOptions{})
	if err == nil || err.Error() != "Kandinsky API key not configured" {
		t.Fatalf("error = %v", err)
	}
}

func TestReloadCredentials(t *testing.T) {
	t.Setenv("KANDINSKY_API_KEY", "")

	p, err := New("kandinsky", testConfig())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	t.Setenv("KANDINSKY_API_KEY", "late-key")
	p.ReloadCredentials()
	if !p.Available() {
		t.Fatal("provider should pick up the key on reload")
	}
}
