package factory

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"multisearch/internal/config"
	"multisearch/internal/provider"
	claudeProvider "multisearch/internal/provider/claude"
	gigachatProvider "multisearch/internal/provider/gigachat"
	kandinskyProvider "multisearch/internal/provider/kandinsky"
	openaicompatProvider "multisearch/internal/provider/openaicompat"
	yandexProvider "multisearch/internal/provider/yandex"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs the six adapters from
// configuration and stores them in the registry in presentation order.
func RegisterConfiguredProviders(cfg config.Config, registry *provider.Registry, tokens yandexProvider.TokenSource) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	yandex, err := yandexProvider.New("yandexgpt", cfg.Providers.YandexGPT, tokens, newHTTPClient(false))
	if err != nil {
		return fmt.Errorf("initialise yandexgpt provider: %w", err)
	}

	gigachat, err := gigachatProvider.New("gigachat", cfg.Providers.GigaChat, newHTTPClient(cfg.Providers.GigaChat.InsecureSkipVerify))
	if err != nil {
		return fmt.Errorf("initialise gigachat provider: %w", err)
	}

	kandinsky, err := kandinskyProvider.New("kandinsky", cfg.Providers.Kandinsky)
	if err != nil {
		return fmt.Errorf("initialise kandinsky provider: %w", err)
	}

	chatgptRU, err := openaicompatProvider.New("chatgpt_ru", cfg.Providers.ChatGPTRU, newHTTPClient(false))
	if err != nil {
		return fmt.Errorf("initialise chatgpt_ru provider: %w", err)
	}

	openAI, err := openaicompatProvider.New("openai", cfg.Providers.OpenAI, newHTTPClient(false))
	if err != nil {
		return fmt.Errorf("initialise openai provider: %w", err)
	}

	claude, err := claudeProvider.New("claude", cfg.Providers.Claude, newHTTPClient(false))
	if err != nil {
		return fmt.Errorf("initialise claude provider: %w", err)
	}

	for _, entry := range []struct {
		adapter provider.Adapter
		rpm     float64
	}{
		{yandex, cfg.Providers.YandexGPT.RPM},
		{gigachat, cfg.Providers.GigaChat.RPM},
		{kandinsky, cfg.Providers.Kandinsky.RPM},
		{chatgptRU, cfg.Providers.ChatGPTRU.RPM},
		{openAI, cfg.Providers.OpenAI.RPM},
		{claude, cfg.Providers.Claude.RPM},
	} {
		if err := registry.Register(provider.Limit(entry.adapter, entry.rpm)); err != nil {
			return fmt.Errorf("register %s provider: %w", entry.adapter.ID(), err)
		}
	}

	return nil
}

func newHTTPClient(insecureSkipVerify bool) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if insecureSkipVerify {
		// The GigaChat endpoints present certificates from the Russian
		// trust chain, which is absent from most system stores.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: transport,
	}
}
