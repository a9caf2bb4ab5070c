package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"multisearch/internal/config"
	"multisearch/internal/models"
)

func testConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:     "Anthropic Claude",
		Endpoint: endpoint,
		Models:   []string{"claude-3-opus-20240229", "claude-3-haiku-20240307"},
		KeyEnv:   "TEST_ANTHROPIC_KEY",
	}
}

func TestQuerySuccess(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	var gotPayload messagePayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key header = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}],
			"usage": {"input_tokens": 10, "output_tokens": 15}
		}`))
	}))
	defer upstream.Close()

	p, err := New("claude", testConfig(upstream.URL), upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	reply, err := p.Query(context.Background(), "hello", models.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.Text != "part one part two" {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if reply.TokensUsed != 25 {
		t.Fatalf("tokens used = %d, want input+output", reply.TokensUsed)
	}
	if gotPayload.Model != "claude-3-opus-20240229" {
		t.Fatalf("default model = %q", gotPayload.Model)
	}
}

func TestQueryWithHistoryNormalizesRoles(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	var gotPayload messagePayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer upstream.Close()

	p, err := New("claude", testConfig(upstream.URL), upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	history := []models.Message{
		{Role: "system", Content: "be brief"},
		{Role: models.RoleAssistant, Content: "ok"},
		{Role: models.RoleUser, Content: "question"},
	}
	if _, err := p.QueryWithHistory(context.Background(), history, models.QueryOptions{}); err != nil {
		t.Fatalf("query with history: %v", err)
	}

	if gotPayload.Messages[0].Role != models.RoleUser {
		t.Fatalf("system role should be sent as user, got %q", gotPayload.Messages[0].Role)
	}
	if gotPayload.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("assistant role must survive, got %q", gotPayload.Messages[1].Role)
	}
}

func TestQueryAPIError(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "Rate limit exceeded"}}`))
	}))
	defer upstream.Close()

	p, err := New("claude", testConfig(upstream.URL), upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Query(context.Background(), "hi", models.QueryOptions{})
	if err == nil || !strings.Contains(err.Error(), "Rate limit exceeded") {
		t.Fatalf("error = %v", err)
	}
}

func TestQueryRejectsNonTextContent(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content": [{"type": "tool_use"}]}`))
	}))
	defer upstream.Close()

	p, err := New("claude", testConfig(upstream.URL), upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Query(context.Background(), "hi", models.QueryOptions{})
	if err == nil || !strings.Contains(err.Error(), "tool_use") {
		t.Fatalf("error = %v", err)
	}
}

func TestQueryWithoutKey(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "")

	p, err := New("claude", testConfig("http://unused.invalid"), &http.Client{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if p.Available() {
		t.Fatal("provider should be unavailable without a key")
	}

	_, err = p.Query(context.Background(), "hi", models.QueryOptions{})
	if err == nil || err.Error() != "Anthropic API key not configured" {
		t.Fatalf("error = %v", err)
	}
}
