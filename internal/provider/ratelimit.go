package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"multisearch/internal/models"
)

// Limit wraps an adapter with a client-side token-bucket limiter so a burst
// of fan-out requests cannot exceed the provider's request-per-minute quota.
// An rpm of zero disables limiting and returns the adapter unchanged.
// The wrapper never retries; a call only waits for its slot.
func Limit(a Adapter, rpm float64) Adapter {
	if rpm <= 0 {
		return a
	}

	burst := int(rpm / 10)
	if burst < 1 {
		burst = 1
	}

	l := &limited{
		inner:   a,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
	}
	if h, ok := a.(HistoryQuerier); ok {
		return &limitedHistory{limited: l, history: h}
	}
	return l
}

type limited struct {
	inner   Adapter
	limiter *rate.Limiter
}

func (l *limited) ID() string       { return l.inner.ID() }
func (l *limited) Name() string     { return l.inner.Name() }
func (l *limited) Models() []string { return l.inner.Models() }
func (l *limited) Available() bool  { return l.inner.Available() }

func (l *limited) Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Reply{}, fmt.Errorf("rate limiter wait for %s: %w", l.inner.ID(), err)
	}
	return l.inner.Query(ctx, prompt, opts)
}

func (l *limited) ReloadCredentials() {
	if cr, ok := l.inner.(CredentialReloader); ok {
		cr.ReloadCredentials()
	}
}

// limitedHistory mirrors the inner adapter's history capability so type
// assertions against the wrapped adapter keep working.
type limitedHistory struct {
	*limited
	history HistoryQuerier
}

func (l *limitedHistory) QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Reply{}, fmt.Errorf("rate limiter wait for %s: %w", l.inner.ID(), err)
	}
	return l.history.QueryWithHistory(ctx, history, opts)
}
