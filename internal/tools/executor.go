package tools

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bentman/JARVISv5/internal/cache"
	"github.com/bentman/JARVISv5/internal/jerr"
	"github.com/bentman/JARVISv5/internal/metrics"
	"github.com/bentman/JARVISv5/internal/policy"
	"github.com/bentman/JARVISv5/internal/security"
)

// DefaultCacheTTL is the TTL applied to a cached READ_ONLY tool result
// when the caller does not override it (spec.md §4.8: "TTL default
// 1800 s").
const DefaultCacheTTL = 1800 * time.Second

// ExecutionRequest is the input to Execute (spec.md §4.8's
// `execute(request, *, allow_write_safe, allow_external, cache?,
// privacy_wrapper?)`).
type ExecutionRequest struct {
	ToolName       string
	Payload        map[string]any
	AllowWriteSafe bool
	AllowExternal  bool
	TaskID         string
	RedactionMode  security.Mode

	// CorrelationID identifies this call across logs and the audit
	// trail. Callers may leave it empty; Execute assigns a fresh one.
	CorrelationID string
}

// PrivacyInfo is the optional {pii_detected, types} attached to a
// successful external-call result.
type PrivacyInfo struct {
	PIIDetected bool     `json:"pii_detected"`
	Types       []string `json:"types"`
}

// ExecutionResult is the success shape from spec.md §4.8: `{ok:true,
// value, cache_hit, privacy?, redacted_result_text?}`.
type ExecutionResult struct {
	OK                 bool         `json:"ok"`
	Value              any          `json:"value"`
	CacheHit           bool         `json:"cache_hit"`
	Privacy            *PrivacyInfo `json:"privacy,omitempty"`
	RedactedResultText string       `json:"redacted_result_text,omitempty"`
	CorrelationID      string       `json:"correlation_id,omitempty"`
}

// Executor dispatches validated requests to registered handlers, enforcing
// permission tiers, an optional OPA second gate, caching, and privacy
// wrapping for external calls.
type Executor struct {
	registry    *Registry
	cache       *cache.Cache
	keys        cache.KeyPolicy
	privacy     *security.PrivacyWrapper
	policyMu    sync.RWMutex
	policy      policy.Engine
	externalRPS *rate.Limiter
	logger      *zap.Logger

	cacheEnabled bool
	cacheTTL     time.Duration
}

// ExecutorOption configures optional Executor collaborators.
type ExecutorOption func(*Executor)

// WithCache wires a cache client; caching is only consulted for READ_ONLY
// tools that do not route through the Privacy Wrapper, i.e. def.External
// is false (spec.md §4.8). Whether an Executor happens to have a privacy
// wrapper configured at all is irrelevant to a given tool's eligibility.
func WithCache(c *cache.Cache, enabled bool) ExecutorOption {
	return func(e *Executor) {
		e.cache = c
		e.cacheEnabled = enabled
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) { e.cacheTTL = ttl }
}

// WithPrivacyWrapper wires the Privacy Wrapper used to gate and redact
// external-call tools.
func WithPrivacyWrapper(p *security.PrivacyWrapper) ExecutorOption {
	return func(e *Executor) { e.privacy = p }
}

// WithPolicyEngine wires an OPA-backed second permission gate consulted
// after tier gating passes (grounded on internal/policy.OPAEngine).
func WithPolicyEngine(p policy.Engine) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// SetPolicyEngine swaps the OPA second gate at runtime. A nil caller-side
// engine reload (internal/config.ConfigManager.RegisterPolicyHandler fires
// on .rego file changes in the configured bundle directory) calls this to
// hot-swap in the recompiled engine without restarting the process.
func (e *Executor) SetPolicyEngine(p policy.Engine) {
	e.policyMu.Lock()
	e.policy = p
	e.policyMu.Unlock()
}

// WithExternalRateLimit caps the rate of External-tier tool invocations
// (spec.md §4.8's external-call gate) to rps requests per second, with
// burst headroom for short spikes. It has no effect on non-external
// tools — local reads and sandbox writes are unthrottled.
func WithExternalRateLimit(rps float64, burst int) ExecutorOption {
	return func(e *Executor) { e.externalRPS = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewExecutor builds an Executor bound to registry.
func NewExecutor(registry *Registry, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   logger,
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Execute runs request against the registry, enforcing spec.md §4.8's
// permission policy, caching rule, and privacy-wrapper contract.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, *jerr.Error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}

	def, ok := e.registry.Get(req.ToolName)
	if !ok {
		return ExecutionResult{}, jerr.New(jerr.CodeToolNotFound, "unknown tool").
			WithDetails(map[string]any{"tool_name": req.ToolName})
	}

	input, verr := e.registry.ValidateInput(req.ToolName, req.Payload)
	if verr != nil {
		return ExecutionResult{}, verr
	}

	if denyErr := e.checkPermission(def, req); denyErr != nil {
		return ExecutionResult{}, denyErr
	}

	if def.External && e.privacy == nil {
		return ExecutionResult{}, jerr.New(jerr.CodeConfigurationError,
			"external tool requires a privacy wrapper")
	}

	if def.External && e.externalRPS != nil {
		if err := e.externalRPS.Wait(ctx); err != nil {
			return ExecutionResult{}, jerr.New(jerr.CodeExecutionError, "external rate limit wait: "+err.Error()).
				WithDetails(map[string]any{"tool_name": def.Name})
		}
	}

	if allowed, denyErr := e.checkPolicyEngine(ctx, def, req); !allowed {
		return ExecutionResult{}, denyErr
	}

	handler, ok := e.registry.handlerFor(req.ToolName)
	if !ok {
		return ExecutionResult{}, jerr.New(jerr.CodeToolNotImplemented, "tool registered without a handler").
			WithDetails(map[string]any{"tool_name": req.ToolName})
	}

	cacheKey, useCache := e.cacheKeyFor(def, req)
	if useCache {
		if raw, hit := e.cache.Get(ctx, "tool", cacheKey); hit {
			var cached ExecutionResult
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				cached.CacheHit = true
				cached.CorrelationID = req.CorrelationID
				metrics.RecordTool(def.Name, "ok", true)
				return cached, nil
			}
		}
	}

	value, err := handler(input)
	if err != nil {
		metrics.RecordTool(def.Name, "error", false)
		return ExecutionResult{}, jerr.New(jerr.CodeExecutionError, err.Error()).
			WithDetails(map[string]any{"tool_name": req.ToolName, "correlation_id": req.CorrelationID})
	}

	result := ExecutionResult{OK: true, Value: value, CacheHit: false, CorrelationID: req.CorrelationID}

	if def.External {
		result, err = e.applyPrivacyToResult(result, req)
		if err != nil {
			metrics.RecordTool(def.Name, "error", false)
			return ExecutionResult{}, jerr.New(jerr.CodeExecutionError, err.Error())
		}
	}

	if useCache {
		if raw, err := json.Marshal(result); err == nil {
			e.cache.Set(ctx, "tool", cacheKey, string(raw), e.cacheTTL)
		}
	}

	metrics.RecordTool(def.Name, "ok", false)
	return result, nil
}

func (e *Executor) checkPermission(def Definition, req ExecutionRequest) *jerr.Error {
	switch def.Tier {
	case TierSystem:
		metrics.SandboxDenials.WithLabelValues("system_tier").Inc()
		return jerr.New(jerr.CodePermissionDenied, "system tier is permanently denied at this tier").
			WithDetails(map[string]any{"tool_name": def.Name})
	case TierWriteSafe:
		if !req.AllowWriteSafe {
			metrics.SandboxDenials.WithLabelValues("write_safe_not_allowed").Inc()
			return jerr.New(jerr.CodePermissionDenied, "write_safe tier requires allow_write_safe").
				WithDetails(map[string]any{"tool_name": def.Name})
		}
	}
	if def.External && !req.AllowExternal {
		metrics.SandboxDenials.WithLabelValues("external_not_allowed").Inc()
		return jerr.New(jerr.CodePermissionDenied, "external tool requires allow_external").
			WithDetails(map[string]any{"tool_name": def.Name})
	}
	return nil
}

// checkPolicyEngine consults the optional OPA second gate after tier
// gating passes. A nil engine or a disabled engine always allows.
func (e *Executor) checkPolicyEngine(ctx context.Context, def Definition, req ExecutionRequest) (bool, *jerr.Error) {
	e.policyMu.RLock()
	eng := e.policy
	e.policyMu.RUnlock()

	if eng == nil || !eng.IsEnabled() {
		return true, nil
	}

	decision, err := eng.Evaluate(ctx, &policy.PolicyInput{
		AgentID:     "tool_executor",
		Query:       def.Name,
		Mode:        string(def.Tier),
		Environment: eng.Environment(),
		Context: map[string]any{
			"tool_name": def.Name,
			"tier":      string(def.Tier),
			"external":  def.External,
			"task_id":   req.TaskID,
		},
	})
	if err != nil {
		e.logger.Warn("tools: policy evaluation failed, failing open", zap.Error(err))
		return true, nil
	}
	if !decision.Allow {
		return false, jerr.New(jerr.CodePermissionDenied, decision.Reason).
			WithDetails(map[string]any{"tool_name": def.Name, "policy_version": decision.PolicyVersion})
	}
	return true, nil
}

func (e *Executor) cacheKeyFor(def Definition, req ExecutionRequest) (string, bool) {
	if e.cache == nil || !e.cacheEnabled || def.Tier != TierReadOnly || def.External {
		return "", false
	}
	key, err := e.keys.BuildKey("tool", map[string]any{"tool_name": def.Name, "payload": req.Payload})
	if err != nil {
		return "", false
	}
	return key, true
}

func (e *Executor) applyPrivacyToResult(result ExecutionResult, req ExecutionRequest) (ExecutionResult, error) {
	mode := req.RedactionMode
	if mode == "" {
		mode = security.ModeStrict
	}
	resultText, err := json.Marshal(result.Value)
	if err != nil {
		return result, err
	}
	scan, err := e.privacy.ScanToolOutput(string(resultText), mode, req.TaskID)
	if err != nil {
		return result, err
	}
	result.Privacy = &PrivacyInfo{PIIDetected: scan.PIIDetected, Types: scan.Summary.Types}
	result.RedactedResultText = scan.Text
	return result, nil
}
