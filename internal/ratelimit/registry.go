package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/embedlink/embedlink/internal/constants"
	"github.com/embedlink/embedlink/internal/logging"
)

// Scope identifies a group of endpoints that share one token bucket.
type Scope string

const (
	// ScopeSubmit covers the initiating requests: start training, compare
	// and upload. This is the default scope.
	ScopeSubmit Scope = "submit"

	// ScopePoll covers training status polls.
	ScopePoll Scope = "poll"

	// ScopeImage covers result image downloads.
	ScopeImage Scope = "image"
)

// ScopeConfig holds the bucket configuration for a single scope.
type ScopeConfig struct {
	Scope         Scope
	TargetRate    float64 // requests per second
	BurstCapacity float64
}

// EndpointRule maps an endpoint pattern to its scope.
// Rules are matched in order of specificity: longer patterns and method-specific
// rules take precedence over shorter/wildcard ones.
type EndpointRule struct {
	// Pattern is a path prefix to match against (e.g., "/train_status/").
	Pattern string

	// Method is the HTTP method to match, or "" for any method.
	Method string

	Scope Scope
}

// specificity returns a score for rule precedence. Higher = more specific.
func (r EndpointRule) specificity() int {
	score := len(r.Pattern)
	if r.Method != "" {
		score += 1000 // Method-specific rules always win over method-agnostic
	}
	return score
}

// Registry maps endpoints to scopes and holds the per-scope configuration.
type Registry struct {
	// rules sorted by specificity descending (most specific first)
	rules        []EndpointRule
	scopeConfigs map[Scope]ScopeConfig
	defaultScope Scope
}

// NewRegistry creates the registry for the service endpoints. Every scope
// gets rate and burst; polls and image downloads draw from their own
// buckets so a busy scope cannot starve another.
func NewRegistry(rate, burst float64) *Registry {
	r := &Registry{
		defaultScope: ScopeSubmit,
		scopeConfigs: make(map[Scope]ScopeConfig),
	}
	for _, s := range []Scope{ScopeSubmit, ScopePoll, ScopeImage} {
		r.scopeConfigs[s] = ScopeConfig{Scope: s, TargetRate: rate, BurstCapacity: burst}
	}

	r.rules = []EndpointRule{
		{Pattern: constants.PathTrainingStatus, Method: http.MethodGet, Scope: ScopePoll},
		{Pattern: constants.PathImage, Method: http.MethodGet, Scope: ScopeImage},
		{Pattern: constants.PathStartTraining, Method: "", Scope: ScopeSubmit},
		{Pattern: constants.PathCompareImage, Method: "", Scope: ScopeSubmit},
		{Pattern: constants.PathUpload, Method: "", Scope: ScopeSubmit},
	}

	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].specificity() > r.rules[j].specificity()
	})

	return r
}

// ResolveScope determines the scope for a method and path. Returns the
// default scope when no rule matches.
func (r *Registry) ResolveScope(method, path string) Scope {
	for _, rule := range r.rules {
		if !strings.HasPrefix(path, rule.Pattern) {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		return rule.Scope
	}
	return r.defaultScope
}

// GetScopeConfig returns the configuration for a scope, or the default
// scope's when the scope is unknown.
func (r *Registry) GetScopeConfig(scope Scope) ScopeConfig {
	if cfg, ok := r.scopeConfigs[scope]; ok {
		return cfg
	}
	return r.scopeConfigs[r.defaultScope]
}

// AllScopes returns all configured scope names in a stable order.
func (r *Registry) AllScopes() []Scope {
	scopes := make([]Scope, 0, len(r.scopeConfigs))
	for s := range r.scopeConfigs {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes
}

// ScopeDisplayString returns a human-readable description of the scope for logging.
// Example: "poll (10.00/sec, burst 20)"
func (r *Registry) ScopeDisplayString(scope Scope) string {
	cfg, ok := r.scopeConfigs[scope]
	if !ok {
		return string(scope) + " (unknown scope)"
	}
	return fmt.Sprintf("%s (%.2f/sec, burst %.0f)", scope, cfg.TargetRate, cfg.BurstCapacity)
}

// Limiters holds one RateLimiter per scope of a registry.
type Limiters struct {
	registry *Registry
	limiters map[Scope]*RateLimiter
}

// NewLimiters creates a limiter for every scope in registry.
func NewLimiters(registry *Registry, logger *logging.Logger) *Limiters {
	l := &Limiters{registry: registry, limiters: make(map[Scope]*RateLimiter)}
	for _, s := range registry.AllScopes() {
		cfg := registry.GetScopeConfig(s)
		rl := NewRateLimiter(cfg.TargetRate, cfg.BurstCapacity)
		if logger != nil {
			rl.SetLogger(logger.Named("ratelimit." + string(s)))
		}
		l.limiters[s] = rl
	}
	return l
}

// For returns the limiter that paces method and path.
func (l *Limiters) For(method, path string) *RateLimiter {
	return l.Scope(l.registry.ResolveScope(method, path))
}

// Scope returns the limiter of scope, or the default scope's.
func (l *Limiters) Scope(scope Scope) *RateLimiter {
	if rl, ok := l.limiters[scope]; ok {
		return rl
	}
	return l.limiters[l.registry.defaultScope]
}

// Throttle drains every bucket and holds them all for cooldown. The server
// answers 429 for the client as a whole, not per endpoint.
func (l *Limiters) Throttle(cooldown time.Duration) {
	for _, rl := range l.limiters {
		rl.Drain()
		rl.SetCooldown(cooldown)
	}
}
