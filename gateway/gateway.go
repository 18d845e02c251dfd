// Package gateway owns the only path to the external model provider.
// Every call passes through a shared token-bucket limiter; tool-free
// requests may additionally be served from an in-memory response cache.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// ErrThrottled signals that the upstream provider rejected a call for
// rate reasons. Provider adapters wrap it; callers surface it as a
// "try again later" failure. The gateway itself never retries.
var ErrThrottled = errors.New("model provider throttled the request, try again later")

// Provider is the upstream chat-completion collaborator. Implementations
// must wrap ErrThrottled when the provider signals rate limiting.
type Provider interface {
	Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error)
}

// Config bundles gateway settings.
type Config struct {
	Limiter LimiterConfig
	Cache   CacheConfig
	// CallTimeout bounds a single provider call. Expiry surfaces as a
	// provider error.
	CallTimeout time.Duration
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() Config {
	return Config{
		Limiter:     DefaultLimiterConfig(),
		Cache:       DefaultCacheConfig(),
		CallTimeout: 60 * time.Second,
	}
}

// Gateway mediates every model call: admission through the limiter,
// optional cache fast path, timeout enforcement, and token-usage
// logging. It holds the only mutable state shared across concurrent
// conversations (the reservoir and the cache), both internally
// synchronized.
type Gateway struct {
	provider Provider
	limiter  *limiter
	cache    *responseCache
	timeout  time.Duration
	Logger   *log.Logger
}

// New creates a gateway in front of the given provider.
func New(provider Provider, cfg Config) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is nil")
	}

	lim, err := newLimiter(cfg.Limiter)
	if err != nil {
		return nil, err
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().CallTimeout
	}

	return &Gateway{
		provider: provider,
		limiter:  lim,
		cache:    newResponseCache(cfg.Cache),
		timeout:  timeout,
		Logger:   log.New(os.Stdout, "[gateway] ", log.LstdFlags),
	}, nil
}

// Complete submits one model call. Cache lookup only applies when the
// caller asked for it and no tools are offered: tool-augmented responses
// trigger downstream side effects and are never reused. A cache hit
// consumes no limiter permit.
func (g *Gateway) Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error) {
	cacheable := req.UseCache && len(req.Tools) == 0

	key := ""
	if cacheable {
		key = cacheKey(req)
		if hit, ok := g.cache.get(key); ok {
			g.Logger.Printf("cache hit caller=%s model=%s", req.Caller_ID, req.Model)
			return hit, nil
		}
	}

	release, err := g.limiter.acquire(ctx)
	if err != nil {
		return models.Completion{}, fmt.Errorf("admission wait aborted: %w", err)
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	completion, err := g.provider.Complete(callCtx, req)
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			return models.Completion{}, err
		}
		return models.Completion{}, fmt.Errorf("provider call failed: %w", err)
	}

	// Usage accounting is a required side effect, not optional
	// instrumentation.
	g.Logger.Printf("usage caller=%s model=%s prompt=%d completion=%d total=%d",
		req.Caller_ID, req.Model,
		completion.Usage.PromptTokens, completion.Usage.CompletionTokens, completion.Usage.TotalTokens)

	if cacheable {
		g.cache.put(key, completion)
	}

	return completion, nil
}

// Close stops the limiter's refill schedule.
func (g *Gateway) Close() {
	g.limiter.stop()
}
