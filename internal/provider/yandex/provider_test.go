package yandex

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

type staticTokens struct {
	token string
}

func (s staticTokens) CurrentToken() (string, bool) {
	return s.token, s.token != ""
}

func testConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:     "YandexGPT",
		Endpoint: endpoint,
		Models:   []string{"yandexgpt-lite", "yandexgpt"},
		KeyEnv:   "YANDEX_IAM_TOKEN",
	}
}

func TestQuerySuccess(t *testing.T) {
	t.Setenv("YANDEX_FOLDER_ID", "b1gfolder")

	var gotPayload completionPayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer t1.iam-token" {
			t.Errorf("authorization header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{
			"result": {
				"alternatives": [{"message": {"role": "assistant", "text": "ответ"}}],
				"usage": {"inputTextTokens": "12", "completionTokens": "30", "totalTokens": "42"}
			}
		}`))
	}))
	defer upstream.Close()

	p, err := New("yandexgpt", testConfig(upstream.URL), staticTokens{"t1.iam-token"}, upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	reply, err := p.Query(context.Background(), "вопрос", models.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.Text != "ответ" {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if reply.TokensUsed != 42 {
		t.Fatalf("tokens used = %d, want the parsed string counter", reply.TokensUsed)
	}

	if gotPayload.ModelURI != "gpt://b1gfolder/yandexgpt-lite/latest" {
		t.Fatalf("model uri = %q", gotPayload.ModelURI)
	}
	if gotPayload.CompletionOptions.Stream {
		t.Fatal("stream must be disabled")
	}
	if gotPayload.Messages[0].Text != "вопрос" {
		t.Fatalf("message text = %q", gotPayload.Messages[0].Text)
	}
}

func TestQueryModelOverride(t *testing.T) {
	t.Setenv("YANDEX_FOLDER_ID", "b1gfolder")

	var gotPayload completionPayload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"result": {"alternatives": [{"message": {"text": "ok"}}], "usage": {}}}`))
	}))
	defer upstream.Close()

	p, err := New("yandexgpt", testConfig(upstream.URL), staticTokens{"tok"}, upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	opts := models.QueryOptions{Model: "yandexgpt"}
	if _, err := p.Query(context.Background(), "q", opts); err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotPayload.ModelURI != "gpt://b1gfolder/yandexgpt/latest" {
		t.Fatalf("model uri = %q", gotPayload.ModelURI)
	}
}

func TestQueryMalformedUsageCountersTolerated(t *testing.T) {
	t.Setenv("YANDEX_FOLDER_ID", "b1gfolder")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"alternatives": [{"message": {"text": "ok"}}], "usage": {"totalTokens": "many"}}}`))
	}))
	defer upstream.Close()

	p, err := New("yandexgpt", testConfig(upstream.URL), staticTokens{"tok"}, upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	reply, err := p.Query(context.Background(), "q", models.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.TokensUsed != 0 {
		t.Fatalf("unparseable counter should yield 0, got %d", reply.TokensUsed)
	}
}

func TestAvailabilityRequiresTokenAndFolder(t *testing.T) {
	t.Setenv("YANDEX_FOLDER_ID", "b1gfolder")

	p, err := New("yandexgpt", testConfig("http://unused.invalid"), staticTokens{""}, &http.Client{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if p.Available() {
		t.Fatal("no token should mean unavailable")
	}

	p, err = New("yandexgpt", testConfig("http://unused.invalid"), staticTokens{"tok"}, &http.Client{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if !p.Available() {
		t.Fatal("token plus folder id should mean available")
	}

	t.Setenv("YANDEX_FOLDER_ID", "")
	p.ReloadCredentials()
	if p.Available() {
		t.Fatal("missing folder id should mean unavailable")
	}

	_, err = p.Query(context.Background(), "q", models.QueryOptions{})
	if err == nil || err.Error() != "Yandex IAM token or Folder ID not configured" {
		t.Fatalf("error = %v", err)
	}
}

func TestQueryAPIError(t *testing.T) {
	t.Setenv("YANDEX_FOLDER_ID", "b1gfolder")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "The token has expired"}`))
	}))
	defer upstream.Close()

	p, err := New("yandexgpt", testConfig(upstream.URL), staticTokens{"stale"}, upstream.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Query(context.Background(), "q", models.QueryOptions{})
	if err == nil || !strings.Contains(err.Error(), "The token has expired") {
		t.Fatalf("error = %v", err)
	}
}
