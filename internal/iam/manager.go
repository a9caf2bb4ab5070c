// Package iam maintains the Yandex Cloud IAM bearer token: a PS256-signed
// service-account assertion is exchanged for a 12-hour token, refreshed on
// a schedule that lands well before expiry.
package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"

	"multisearch/internal/config"
	"multisearch/internal/metrics"
)

const (
	// The signed assertion authenticates one exchange and lives an hour;
	// the returned token has its own, longer lifetime.
	assertionValidity = time.Hour
	tokenValidity     = 12 * time.Hour

	envToken = "YANDEX_IAM_TOKEN"
)

// ErrKeyFileMissing marks a refresh skipped because the authorized key
// artifact is not present. Previously cached tokens stay valid.
var ErrKeyFileMissing = errors.New("authorized key file not found")

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Manager owns the cached IAM token. Construct once, inject into the
// adapter that needs it, and drive the lifecycle from the process entry
// point via Start and Stop.
type Manager struct {
	keyPath       string
	tokenEndpoint string
	interval      time.Duration
	client        *http.Client
	logger        *slog.Logger
	metrics       *metrics.Metrics

	current atomic.Pointer[cachedToken]

	mu      sync.Mutex
	cron    *cron.Cron
	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
}

// NewManager constructs a token manager. The cache is seeded from the
// YANDEX_IAM_TOKEN environment variable when set, so a pre-issued token
// works before the first file-based refresh completes.
func NewManager(cfg config.IAMConfig, client *http.Client, m *metrics.Metrics) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	mgr := &Manager{
		keyPath:       cfg.KeyFile,
		tokenEndpoint: cfg.TokenEndpoint,
		interval:      cfg.RefreshInterval.Std(),
		client:        client,
		logger:        slog.Default().With("component", "iam"),
		metrics:       m,
	}

	if seed := strings.TrimSpace(os.Getenv(envToken)); seed != "" {
		mgr.current.Store(&cachedToken{value: seed, expiresAt: time.Now().Add(tokenValidity)})
	}

	return mgr
}

// CurrentToken returns the last successfully cached token. It never
// triggers a refresh.
func (m *Manager) CurrentToken() (string, bool) {
	if tok := m.current.Load(); tok != nil {
		return tok.value, true
	}
	return "", false
}

// Expiry reports when the cached token expires; zero when none is cached.
func (m *Manager) Expiry() time.Time {
	if tok := m.current.Load(); tok != nil {
		return tok.expiresAt
	}
	return time.Time{}
}

type authorizedKey struct {
	ID               string `json:"id"`
	ServiceAccountID string `json:"service_account_id"`
	PrivateKey       string `json:"private_key"`
}

// Refresh performs one exchange: read the authorized key, sign the
// assertion, trade it for a fresh IAM token, and swap the cache. A missing
// key file is a soft failure that leaves any cached token in place.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	data, err := os.ReadFile(m.keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrKeyFileMissing, m.keyPath)
		}
		return "", fmt.Errorf("read authorized key %q: %w", m.keyPath, err)
	}

	var key authorizedKey
	if err := json.Unmarshal(data, &key); err != nil {
		return "", fmt.Errorf("parse authorized key %q: %w", m.keyPath, err)
	}
	if key.ID == "" || key.ServiceAccountID == "" || key.PrivateKey == "" {
		return "", fmt.Errorf("authorized key %q is missing id, service_account_id or private_key", m.keyPath)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"aud": m.tokenEndpoint,
		"iss": key.ServiceAccountID,
		"iat": now.Unix(),
		"exp": now.Add(assertionValidity).Unix(),
	}
	assertion := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	assertion.Header["kid"] = key.ID

	signed, err := assertion.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	body, err := json.Marshal(map[string]string{"jwt": signed})
	if err != nil {
		return "", fmt.Errorf("marshal exchange payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("construct exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return "", fmt.Errorf("token exchange status %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var exchangeResp struct {
		IAMToken string `json:"iamToken"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&exchangeResp); err != nil {
		return "", fmt.Errorf("decode exchange response: %w", err)
	}
	if exchangeResp.IAMToken == "" {
		return "", errors.New("token exchange response missing iamToken")
	}

	expiresAt := time.Now().Add(tokenValidity)
	m.current.Store(&cachedToken{value: exchangeResp.IAMToken, expiresAt: expiresAt})

	m.logger.Info("IAM token refreshed", "expires_at", expiresAt.Format(time.RFC3339))
	return exchangeResp.IAMToken, nil
}

func (m *Manager) refreshAndLog(ctx context.Context) {
	_, err := m.Refresh(ctx)
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrKeyFileMissing):
		status = "skipped"
		m.logger.Warn("authorized key not found, skipping IAM token refresh", "path", m.keyPath)
	default:
		status = "error"
		m.logger.Error("failed to refresh IAM token", "error", err)
	}
	if m.metrics != nil {
		m.metrics.TokenRefreshes.WithLabelValues(status).Inc()
	}
}

// Start performs one immediate refresh, then schedules recurring refreshes
// at the configured interval. A watcher on the key file's directory
// triggers an off-schedule refresh when the artifact appears or changes.
// Refresh failures never stop the schedule.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	m.refreshAndLog(ctx)

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		m.refreshAndLog(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule token refresh: %w", err)
	}
	c.Start()
	m.cron = c
	m.done = make(chan struct{})
	m.started = true

	if err := m.watchKeyFile(); err != nil {
		// Not fatal: the cron schedule alone satisfies the refresh contract.
		m.logger.Warn("authorized key watch unavailable", "error", err)
	}

	m.logger.Info("IAM token auto-refresh started", "interval", m.interval.String())
	return nil
}

func (m *Manager) watchKeyFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(m.keyPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}
	m.watcher = watcher

	target := filepath.Clean(m.keyPath)
	done := m.done
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				m.logger.Info("authorized key changed, refreshing IAM token")
				m.refreshAndLog(context.Background())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("authorized key watch error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return nil
}

// Stop cancels the refresh schedule and the key watcher. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.cron.Stop()
	m.cron = nil
	close(m.done)
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
	m.started = false
	m.logger.Info("IAM token auto-refresh stopped")
}
