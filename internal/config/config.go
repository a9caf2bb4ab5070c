package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "90s" or "11h" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	IAM       IAMConfig       `yaml:"iam"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener and request handling configuration.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ClientOrigin string   `yaml:"client_origin"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// IAMConfig configures the Yandex IAM token lifecycle.
type IAMConfig struct {
	KeyFile         string   `yaml:"key_file"`
	TokenEndpoint   string   `yaml:"token_endpoint"`
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// ProvidersConfig catalogues the upstream providers in presentation order.
type ProvidersConfig struct {
	YandexGPT ProviderConfig `yaml:"yandexgpt"`
	GigaChat  ProviderConfig `yaml:"gigachat"`
	Kandinsky ProviderConfig `yaml:"kandinsky"`
	ChatGPTRU ProviderConfig `yaml:"chatgpt_ru"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Claude    ProviderConfig `yaml:"claude"`
}

// ProviderConfig captures endpoint and tuning info for one provider.
// Credentials are never stored here; KeyEnv names the environment variable
// an adapter reads its secret from.
type ProviderConfig struct {
	Name               string   `yaml:"name"`
	Endpoint           string   `yaml:"endpoint"`
	Models             []string `yaml:"models"`
	KeyEnv             string   `yaml:"api_key_env"`
	RPM                float64  `yaml:"rpm"`
	OAuthEndpoint      string   `yaml:"oauth_endpoint,omitempty"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify,omitempty"`
}

// Default returns the built-in provider catalogue and server settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         5000,
			ClientOrigin: "http://localhost:5173",
			QueryTimeout: Duration(90 * time.Second),
		},
		IAM: IAMConfig{
			KeyFile:         "authorized_key.json",
			TokenEndpoint:   "https://iam.api.cloud.yandex.net/iam/v1/tokens",
			RefreshInterval: Duration(11 * time.Hour),
		},
		Providers: ProvidersConfig{
			YandexGPT: ProviderConfig{
				Name:     "YandexGPT",
				Endpoint: "https://llm.api.cloud.yandex.net/foundationModels/v1/completion",
				Models:   []string{"yandexgpt-lite", "yandexgpt"},
				KeyEnv:   "YANDEX_IAM_TOKEN",
			},
			GigaChat: ProviderConfig{
				Name:               "GigaChat",
				Endpoint:           "https://gigachat.devices.sberbank.ru/api/v1/chat/completions",
				Models:             []string{"GigaChat", "GigaChat-Pro"},
				KeyEnv:             "GIGACHAT_AUTH_TOKEN",
				OAuthEndpoint:      "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
				InsecureSkipVerify: true,
			},
			Kandinsky: ProviderConfig{
				Name:     "Kandinsky AI",
				Endpoint: "https://api-key.fusionbrain.ai/key/api/v1/text2image/run",
				Models:   []string{"kandinsky-3.0", "kandinsky-2.2"},
				KeyEnv:   "KANDINSKY_API_KEY",
			},
			ChatGPTRU: ProviderConfig{
				Name:     "ChatGPT RU",
				Endpoint: "https://api.chatgpt.com/v1/chat/completions",
				Models:   []string{"gpt-3.5-turbo", "gpt-4"},
				KeyEnv:   "CHATGPT_RU_API_KEY",
			},
			OpenAI: ProviderConfig{
				Name:     "OpenAI GPT",
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Models:   []string{"gpt-4", "gpt-3.5-turbo", "gpt-4-turbo"},
				KeyEnv:   "OPENAI_API_KEY",
			},
			Claude: ProviderConfig{
				Name:     "Anthropic Claude",
				Endpoint: "https://api.anthropic.com/v1/messages",
				Models:   []string{"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
				KeyEnv:   "ANTHROPIC_API_KEY",
			},
		},
	}
}

// Load reads YAML configuration from disk on top of the defaults and
// validates the result. An empty path yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.QueryTimeout.Std() <= 0 {
		return fmt.Errorf("server.query_timeout must be positive, got %s", c.Server.QueryTimeout.Std())
	}
	if strings.TrimSpace(c.IAM.KeyFile) == "" {
		return fmt.Errorf("iam.key_file must be provided")
	}
	if strings.TrimSpace(c.IAM.TokenEndpoint) == "" {
		return fmt.Errorf("iam.token_endpoint must be provided")
	}
	if c.IAM.RefreshInterval.Std() <= 0 {
		return fmt.Errorf("iam.refresh_interval must be positive, got %s", c.IAM.RefreshInterval.Std())
	}

	providers := map[string]ProviderConfig{
		"yandexgpt":  c.Providers.YandexGPT,
		"gigachat":   c.Providers.GigaChat,
		"kandinsky":  c.Providers.Kandinsky,
		"chatgpt_ru": c.Providers.ChatGPTRU,
		"openai":     c.Providers.OpenAI,
		"claude":     c.Providers.Claude,
	}

	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Providers.GigaChat.OAuthEndpoint) == "" {
		return fmt.Errorf("provider gigachat: oauth_endpoint must be provided")
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.Name) == "" {
		return fmt.Errorf("provider %s: name must be provided", name)
	}
	if strings.TrimSpace(provider.Endpoint) == "" {
		return fmt.Errorf("provider %s: endpoint must be provided", name)
	}
	if len(provider.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model must be configured", name)
	}
	for _, model := range provider.Models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
	}
	if strings.TrimSpace(provider.KeyEnv) == "" {
		return fmt.Errorf("provider %s: api_key_env must be provided", name)
	}
	if provider.RPM < 0 {
		return fmt.Errorf("provider %s: rpm must not be negative, got %v", name, provider.RPM)
	}
	return nil
}
