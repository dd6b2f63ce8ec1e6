// Package config loads process configuration for the core (spec.md §6)
// from the environment, an optional .env file, and built-in defaults, in
// that precedence order — the same spf13/viper + joho/godotenv loading
// idiom as the teacher's config.go, generalized from its single
// features.yaml read to the full option set this core exposes.
// ConfigManager (manager.go) is unchanged: a generic fsnotify-backed
// directory watcher, reused here to hot-reload the policy bundle
// internal/policy already consults and to notice an edited jarvis.yaml
// override file.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bentman/JARVISv5/internal/retrieval"
)

// DebugMode is the two-valued DEBUG setting spec.md §6 names; any value
// other than "dev" falls back to "release".
type DebugMode string

const (
	DebugDev     DebugMode = "dev"
	DebugRelease DebugMode = "release"
)

// CacheConfig controls whether internal/cache is constructed at all and
// which TTLs its categories use (spec.md §6, §4.4).
type CacheConfig struct {
	Enabled            bool
	DefaultTTLSeconds  int
	ContextTTLSeconds  int
	ToolTTLSeconds     int
}

// SecurityConfig controls whether internal/security's PII detector,
// redactor, and audit log are wired into the privacy wrapper (spec.md
// §6, §4.6).
type SecurityConfig struct {
	EnablePIIDetection bool
	EnablePIIRedaction bool
	EnableSecurityAudit bool
}

// JarvisConfig is the fully resolved option set spec.md §6 names.
type JarvisConfig struct {
	Debug             DebugMode
	Cache             CacheConfig
	Security          SecurityConfig
	EnableHybridRetrieval bool
	Retrieval         retrieval.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", string(DebugRelease))

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("cache.context_ttl_seconds", 3600)
	v.SetDefault("cache.tool_ttl_seconds", 1800)

	v.SetDefault("security.enable_pii_detection", false)
	v.SetDefault("security.enable_pii_redaction", false)
	v.SetDefault("security.enable_security_audit", false)

	v.SetDefault("enable_hybrid_retrieval", false)

	def := retrieval.DefaultConfig()
	v.SetDefault("retrieval.max_total_results", def.MaxTotalResults)
	v.SetDefault("retrieval.min_final_score_threshold", def.MinFinalScoreThreshold)
	v.SetDefault("retrieval.max_working_state_messages", def.MaxWorkingStateMessages)
	v.SetDefault("retrieval.recency_decay_hours", def.RecencyDecayHours)
	v.SetDefault("retrieval.working_state_weights.relevance", def.WorkingStateWeights.Relevance)
	v.SetDefault("retrieval.working_state_weights.recency", def.WorkingStateWeights.Recency)
	v.SetDefault("retrieval.semantic_weights.relevance", def.SemanticWeights.Relevance)
	v.SetDefault("retrieval.semantic_weights.recency", def.SemanticWeights.Recency)
	v.SetDefault("retrieval.episodic_weights.relevance", def.EpisodicWeights.Relevance)
	v.SetDefault("retrieval.episodic_weights.recency", def.EpisodicWeights.Recency)
}

// bindEnv maps every JarvisConfig key to its upper-snake-case environment
// variable (spec.md §6's literal names: CACHE_ENABLED,
// CACHE_DEFAULT_TTL, CONTEXT_CACHE_TTL_SECONDS, TOOL_CACHE_TTL_SECONDS,
// ENABLE_PII_DETECTION, ENABLE_PII_REDACTION, ENABLE_SECURITY_AUDIT,
// ENABLE_HYBRID_RETRIEVAL, DEBUG). viper.AutomaticEnv with a replacer
// would map dots to underscores uniformly, but several keys diverge from
// their dotted path (CACHE_DEFAULT_TTL, not CACHE_DEFAULT_TTL_SECONDS),
// so each is bound explicitly instead.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("debug", "DEBUG")
	_ = v.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = v.BindEnv("cache.default_ttl_seconds", "CACHE_DEFAULT_TTL")
	_ = v.BindEnv("cache.context_ttl_seconds", "CONTEXT_CACHE_TTL_SECONDS")
	_ = v.BindEnv("cache.tool_ttl_seconds", "TOOL_CACHE_TTL_SECONDS")
	_ = v.BindEnv("security.enable_pii_detection", "ENABLE_PII_DETECTION")
	_ = v.BindEnv("security.enable_pii_redaction", "ENABLE_PII_REDACTION")
	_ = v.BindEnv("security.enable_security_audit", "ENABLE_SECURITY_AUDIT")
	_ = v.BindEnv("enable_hybrid_retrieval", "ENABLE_HYBRID_RETRIEVAL")
	_ = v.BindEnv("retrieval.max_total_results", "RETRIEVAL_MAX_TOTAL_RESULTS")
	_ = v.BindEnv("retrieval.min_final_score_threshold", "RETRIEVAL_MIN_FINAL_SCORE_THRESHOLD")
	_ = v.BindEnv("retrieval.max_working_state_messages", "RETRIEVAL_MAX_WORKING_STATE_MESSAGES")
	_ = v.BindEnv("retrieval.recency_decay_hours", "RETRIEVAL_RECENCY_DECAY_HOURS")
	_ = v.BindEnv("retrieval.working_state_weights.relevance", "RETRIEVAL_WORKING_STATE_WEIGHT_RELEVANCE")
	_ = v.BindEnv("retrieval.working_state_weights.recency", "RETRIEVAL_WORKING_STATE_WEIGHT_RECENCY")
	_ = v.BindEnv("retrieval.semantic_weights.relevance", "RETRIEVAL_SEMANTIC_WEIGHT_RELEVANCE")
	_ = v.BindEnv("retrieval.semantic_weights.recency", "RETRIEVAL_SEMANTIC_WEIGHT_RECENCY")
	_ = v.BindEnv("retrieval.episodic_weights.relevance", "RETRIEVAL_EPISODIC_WEIGHT_RELEVANCE")
	_ = v.BindEnv("retrieval.episodic_weights.recency", "RETRIEVAL_EPISODIC_WEIGHT_RECENCY")
}

// Load resolves a JarvisConfig from process environment, then a .env
// file (if present at envPath; pass "" for the default ".env" in the
// working directory), then built-in defaults, in that precedence order
// (spec.md §6). A missing .env file is not an error — most deployments
// rely on real environment variables alone.
func Load(envPath string) (*JarvisConfig, error) {
	if envPath == "" {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	v.AutomaticEnv()

	debug := DebugMode(strings.ToLower(v.GetString("debug")))
	if debug != DebugDev {
		debug = DebugRelease
	}

	cfg := &JarvisConfig{
		Debug: debug,
		Cache: CacheConfig{
			Enabled:           v.GetBool("cache.enabled"),
			DefaultTTLSeconds: v.GetInt("cache.default_ttl_seconds"),
			ContextTTLSeconds: v.GetInt("cache.context_ttl_seconds"),
			ToolTTLSeconds:    v.GetInt("cache.tool_ttl_seconds"),
		},
		Security: SecurityConfig{
			EnablePIIDetection:  v.GetBool("security.enable_pii_detection"),
			EnablePIIRedaction:  v.GetBool("security.enable_pii_redaction"),
			EnableSecurityAudit: v.GetBool("security.enable_security_audit"),
		},
		EnableHybridRetrieval: v.GetBool("enable_hybrid_retrieval"),
		Retrieval: retrieval.Config{
			MaxTotalResults:         v.GetInt("retrieval.max_total_results"),
			MinFinalScoreThreshold:  v.GetFloat64("retrieval.min_final_score_threshold"),
			MaxWorkingStateMessages: v.GetInt("retrieval.max_working_state_messages"),
			RecencyDecayHours:       v.GetFloat64("retrieval.recency_decay_hours"),
			WorkingStateWeights: retrieval.Weights{
				Relevance: v.GetFloat64("retrieval.working_state_weights.relevance"),
				Recency:   v.GetFloat64("retrieval.working_state_weights.recency"),
			},
			SemanticWeights: retrieval.Weights{
				Relevance: v.GetFloat64("retrieval.semantic_weights.relevance"),
				Recency:   v.GetFloat64("retrieval.semantic_weights.recency"),
			},
			EpisodicWeights: retrieval.Weights{
				Relevance: v.GetFloat64("retrieval.episodic_weights.relevance"),
				Recency:   v.GetFloat64("retrieval.episodic_weights.recency"),
			},
		},
	}
	return cfg, nil
}
