package provider

import (
	"context"

	"multisearch/internal/models"
)

// Default tuning applied when a request leaves an option unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// Adapter is the uniform capability interface every upstream integration
// implements. Available must be a pure check of credential presence and
// never touch the network; Query performs exactly one upstream call with
// no retries.
type Adapter interface {
	ID() string
	Name() string
	Models() []string
	Available() bool
	Query(ctx context.Context, prompt string, opts models.QueryOptions) (models.Reply, error)
}

// HistoryQuerier is implemented by adapters that can send the full
// conversation so far instead of a single prompt.
type HistoryQuerier interface {
	QueryWithHistory(ctx context.Context, history []models.Message, opts models.QueryOptions) (models.Reply, error)
}

// CredentialReloader is implemented by adapters whose credentials are
// re-read from the environment on demand.
type CredentialReloader interface {
	ReloadCredentials()
}

// ResolveModel picks the model for a call: the explicit option if given,
// else the adapter's first (default) model.
func ResolveModel(a Adapter, opts models.QueryOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	if ms := a.Models(); len(ms) > 0 {
		return ms[0]
	}
	return "unknown"
}

// Temperature returns the effective temperature for a call.
func Temperature(opts models.QueryOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return DefaultTemperature
}

// MaxTokens returns the effective completion budget for a call.
func MaxTokens(opts models.QueryOptions) int {
	if opts.MaxTokens != nil {
		return *opts.MaxTokens
	}
	return DefaultMaxTokens
}
