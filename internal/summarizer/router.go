package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sna-ai/sna/internal/metrics"
)

// ProviderAttempt records one provider's failure while walking the chain.
type ProviderAttempt struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// AllProvidersFailedError is returned when every provider in the chain has
// been exhausted for a request.
type AllProvidersFailedError struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + ": " + a.Error
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Router walks an ordered provider chain. Transient failures get one retry
// per provider; permanent failures skip straight to the next provider.
type Router struct {
	providers  []Provider
	timeout    time.Duration
	retryDelay time.Duration
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewRouter(providers []Provider, timeout, retryDelay time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Router{
		providers:  providers,
		timeout:    timeout,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// SetMetrics wires the Prometheus collector. Set once at startup; a nil
// collector disables instrumentation.
func (r *Router) SetMetrics(m *metrics.Collector) {
	r.metrics = m
}

// Generate tries each provider in order until one succeeds.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(r.providers) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	var attempts []ProviderAttempt
	for _, p := range r.providers {
		resp, err := r.tryProvider(ctx, p, req)
		if err == nil {
			r.metrics.ObserveLLMRequest(p.Name(), resp.TotalTokens, resp.CostUSD, nil)
			return resp, nil
		}
		r.metrics.ObserveLLMRequest(p.Name(), 0, 0, err)
		attempts = append(attempts, ProviderAttempt{Provider: p.Name(), Error: err.Error()})
		if ctx.Err() != nil {
			// The caller is gone; walking the rest of the chain would just
			// fail the same way.
			break
		}
		r.logger.Warn("provider failed, trying next",
			"provider", p.Name(),
			"transient", isTransient(err),
			"error", err)
	}
	return nil, &AllProvidersFailedError{Attempts: attempts}
}

func (r *Router) tryProvider(ctx context.Context, p Provider, req Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	resp, err := p.Generate(callCtx, req)
	cancel()
	if err == nil {
		return resp, nil
	}
	if !isTransient(err) {
		return nil, err
	}

	r.logger.Warn("transient provider failure, retrying once",
		"provider", p.Name(),
		"delay", r.retryDelay,
		"error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.retryDelay):
	}

	retryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Generate(retryCtx, req)
}

// isTransient classifies a provider error. Transient failures are worth one
// retry on the same provider: 429, 503, 504, timeouts, and network errors.
// Everything else moves to the next provider immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return transientStatus(openaiErr.HTTPStatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return transientStatus(anthropicErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func transientStatus(status int) bool {
	switch status {
	case 429, 503, 504:
		return true
	}
	return false
}

// ChainSummary names the configured providers in fallback order, for
// logging and the health endpoint.
func (r *Router) ChainSummary() string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return fmt.Sprintf("[%s]", strings.Join(names, " -> "))
}
