package llm

import (
	"fmt"
	"sync"
	"time"

	alexerrors "novelpipe/internal/errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Factory constructs and caches provider clients, adapted from the donor's
// infra/llm Factory: an LRU of constructed clients keyed by
// "provider:model", TTL-expired, with retry/circuit-breaker and the cloud
// semaphore wired in automatically for cloud providers.
type Factory struct {
	mu            sync.RWMutex
	cache         *lru.Cache[string, cacheEntry]
	cacheTTL      time.Duration
	enableRetry   bool
	retryCfg      alexerrors.RetryConfig
	cbCfg         alexerrors.CircuitBreakerConfig
	userRateLimit rate.Limit
	userRateBurst int
}

type cacheEntry struct {
	client    Client
	expiresAt time.Time
}

const (
	defaultCacheSize = 32
	defaultCacheTTL  = 30 * time.Minute
)

// NewFactory returns a Factory with retry enabled and default backoff/
// circuit-breaker settings.
func NewFactory() *Factory {
	cache, _ := lru.New[string, cacheEntry](defaultCacheSize)
	return &Factory{
		cache:       cache,
		cacheTTL:    defaultCacheTTL,
		enableRetry: true,
		retryCfg:    alexerrors.DefaultRetryConfig(),
		cbCfg:       alexerrors.DefaultCircuitBreakerConfig(),
	}
}

// DisableRetry turns off retry/circuit-breaker wrapping for clients built
// after this call (existing cached clients are unaffected).
func (f *Factory) DisableRetry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableRetry = false
}

// EnableUserRateLimit wraps clients built after this call in a
// token-bucket limiter, for providers whose quota is a request rate
// rather than a concurrency cap (the cloud semaphore already bounds
// concurrency and keeps running regardless of this setting).
func (f *Factory) EnableUserRateLimit(limit rate.Limit, burst int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRateLimit = limit
	if burst < 1 {
		burst = 1
	}
	f.userRateBurst = burst
}

var localProviders = map[string]bool{"llama.cpp": true, "llama-cpp": true, "llamacpp": true, "local": true}

// GetClient returns a cached or newly-constructed Client for provider+model.
func (f *Factory) GetClient(provider, model string, cfg Config) (Client, error) {
	key := fmt.Sprintf("%s:%s", provider, model)
	now := time.Now()

	f.mu.RLock()
	cache := f.cache
	ttl := f.cacheTTL
	enableRetry := f.enableRetry
	retryCfg := f.retryCfg
	cbCfg := f.cbCfg
	userRateLimit := f.userRateLimit
	userRateBurst := f.userRateBurst
	f.mu.RUnlock()

	if cache != nil {
		if entry, ok := cache.Get(key); ok {
			if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
				return entry.client, nil
			}
			cache.Remove(key)
		}
	}

	var client Client
	var err error
	switch provider {
	case "openai", "openrouter", "deepseek", "kimi", "glm", "minimax":
		client, err = NewOpenAIClient(model, cfg)
	case "anthropic", "claude":
		client, err = NewAnthropicClient(model, cfg)
	case "llama.cpp", "llama-cpp", "llamacpp", "local":
		client, err = NewLlamaCppClient(model, cfg)
	case "mock":
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	if enableRetry {
		client = WrapWithRetry(client, key, retryCfg, cbCfg)
	}
	if !localProviders[provider] {
		client = WrapWithCloudSemaphore(client)
	}
	if userRateLimit > 0 {
		client = WrapWithUserRateLimit(client, userRateLimit, userRateBurst)
	}

	if cache != nil {
		var expiresAt time.Time
		if ttl > 0 {
			expiresAt = now.Add(ttl)
		}
		cache.Add(key, cacheEntry{client: client, expiresAt: expiresAt})
	}
	return client, nil
}
