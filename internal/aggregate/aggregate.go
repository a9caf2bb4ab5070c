// Package aggregate implements the parallel fan-out engine: one branch per
// selected provider, failures isolated per branch, results joined in input
// order.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"multisearch/internal/metrics"
	"multisearch/internal/models"
	"multisearch/internal/provider"
)

// ErrEmptyQuery rejects a blank query before any dispatch happens.
var ErrEmptyQuery = errors.New("Query is required")

// Branch outcome messages surfaced to callers.
const (
	reasonNotFound      = "Provider not found"
	reasonNotConfigured = "API key not configured"

	unknownModel = "unknown"
)

// Runner dispatches queries to providers concurrently and assembles the
// uniform aggregate result.
type Runner struct {
	registry      *provider.Registry
	metrics       *metrics.Metrics
	branchTimeout time.Duration
	logger        *slog.Logger
}

// NewRunner constructs a fan-out runner. branchTimeout bounds each
// provider branch; a branch past its deadline becomes an error result
// without delaying the others.
func NewRunner(registry *provider.Registry, m *metrics.Metrics, branchTimeout time.Duration) *Runner {
	return &Runner{
		registry:      registry,
		metrics:       m,
		branchTimeout: branchTimeout,
		logger:        slog.Default().With("component", "aggregate"),
	}
}

// Run fans the query out to every selected provider concurrently.
//
// An empty providerIDs list means "every registered provider". The results
// slice always has one entry per selected id, in input order, regardless
// of completion order. The only whole-call failure is an empty query; any
// per-provider trouble is converted to an error result on that branch.
func (r *Runner) Run(ctx context.Context, query string, providerIDs []string, opts models.QueryOptions, history []models.Message) (models.QueryResponse, error) {
	if strings.TrimSpace(query) == "" {
		return models.QueryResponse{}, ErrEmptyQuery
	}

	ids := providerIDs
	if len(ids) == 0 {
		ids = r.registry.IDs()
	}

	results := make([]models.AIResponse, len(ids))
	start := time.Now()

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = r.runBranch(ctx, id, query, opts, history)
		}(i, id)
	}
	wg.Wait()

	total := time.Since(start)
	if r.metrics != nil {
		r.metrics.FanoutDuration.Observe(total.Seconds())
	}

	return models.QueryResponse{
		Success:            true,
		Results:            results,
		TotalExecutionTime: total.Milliseconds(),
	}, nil
}

// runBranch executes one provider branch. Every failure mode, including a
// panicking adapter, is converted to an error result here: nothing may
// cross the join boundary.
func (r *Runner) runBranch(ctx context.Context, id, query string, opts models.QueryOptions, history []models.Message) models.AIResponse {
	adapter, ok := r.registry.Resolve(id)
	if !ok {
		r.record(id, "not_found", 0)
		return models.AIResponse{
			Provider:      id,
			Model:         unknownModel,
			Status:        models.StatusError,
			Error:         reasonNotFound,
			ExecutionTime: 0,
		}
	}

	if !adapter.Available() {
		r.record(id, "unavailable", 0)
		return models.AIResponse{
			Provider:      adapter.Name(),
			Model:         unknownModel,
			Status:        models.StatusError,
			Error:         reasonNotConfigured,
			ExecutionTime: 0,
		}
	}

	model := provider.ResolveModel(adapter, opts)

	branchCtx := ctx
	var cancel context.CancelFunc
	if r.branchTimeout > 0 {
		branchCtx, cancel = context.WithTimeout(ctx, r.branchTimeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := r.invoke(branchCtx, adapter, query, opts, history)
	elapsed := time.Since(started)

	if err != nil {
		r.record(id, "error", elapsed)
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("provider did not respond within %s", r.branchTimeout)
		}
		r.logger.Warn("provider branch failed", "provider", id, "error", err, "elapsed_ms", elapsed.Milliseconds())
		return models.AIResponse{
			Provider:      adapter.Name(),
			Model:         model,
			Status:        models.StatusError,
			Error:         message,
			ExecutionTime: elapsed.Milliseconds(),
		}
	}

	r.record(id, "success", elapsed)
	if r.metrics != nil && reply.TokensUsed > 0 {
		r.metrics.ProviderTokens.WithLabelValues(id).Add(float64(reply.TokensUsed))
	}

	text := reply.Text
	return models.AIResponse{
		Provider:      adapter.Name(),
		Model:         model,
		Response:      &text,
		Status:        models.StatusSuccess,
		ExecutionTime: elapsed.Milliseconds(),
		TokensUsed:    reply.TokensUsed,
	}
}

// invoke calls the adapter, preferring the history capability when prior
// turns were supplied. Adapters without history support still answer the
// current query.
func (r *Runner) invoke(ctx context.Context, adapter provider.Adapter, query string, opts models.QueryOptions, history []models.Message) (reply models.Reply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panicked: %v", rec)
		}
	}()

	if len(history) > 0 {
		if hq, ok := adapter.(provider.HistoryQuerier); ok {
			conversation := make([]models.Message, 0, len(history)+1)
			conversation = append(conversation, history...)
			conversation = append(conversation, models.Message{Role: models.RoleUser, Content: query})
			return hq.QueryWithHistory(ctx, conversation, opts)
		}
	}

	return adapter.Query(ctx, query, opts)
}

func (r *Runner) record(id, status string, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.ProviderRequests.WithLabelValues(id, status).Inc()
	if status == "success" || status == "error" {
		r.metrics.ProviderDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	}
}
