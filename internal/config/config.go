// Package config loads the process-wide configuration once at startup
// from environment variables, per spec.md §6. The loaded value is
// immutable for the remainder of the process lifetime, the pattern
// used by cmd/aleutian/config.Load in the teacher repo, adapted from
// a YAML file on disk to an environment-variable source.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// Config is the immutable, process-wide configuration singleton.
type Config struct {
	// Port is the HTTP listen port for the orchestrator.
	Port string

	// StorageURI is the path to the badger data directory (or ":memory:"
	// for an ephemeral in-memory store, mainly for tests).
	StorageURI string

	// llmAPIKey is held in locked memory; only Reveal briefly exposes it.
	llmAPIKey *memguard.LockedBuffer
	// LLMBackend selects the LLMClient implementation ("openai" or "stub").
	LLMBackend string
	// LLMModel is the model name passed to the backend, when applicable.
	LLMModel string

	// Epsilon is the bandit's exploration probability (spec.md §4.6).
	Epsilon float64
	// RegenGap is the score-gap threshold that triggers regeneration.
	RegenGap float64
	// MinTrialsEach is the minimum trial count each slot must reach
	// before a regeneration can trigger.
	MinTrialsEach int64

	// RequestDeadline is the soft deadline for an optimize request.
	RequestDeadline time.Duration
	// RegenDeadline bounds a single regeneration LLM call.
	RegenDeadline time.Duration
	// RegenLockTTL is how long an advisory regeneration lock survives
	// without being released, to tolerate a crashed worker.
	RegenLockTTL time.Duration

	// MonthlyEventLimitDefault is loaded from MONTHLY_EVENT_LIMIT_DEFAULT;
	// nothing in the service reads it (there is no business registration).
	MonthlyEventLimitDefault int64
	// DefaultReward is loaded from DEFAULT_REWARD. The reward handler
	// does not read it: a request that omits a reward gets 1.0.
	DefaultReward float64

	// OrchestratorRateLimit is the per-api-key token bucket (req/s, burst).
	OrchestratorRateLimitRPS   float64
	OrchestratorRateLimitBurst int
	// IngestorRateLimit is the per-(user,session) high-frequency-event bucket.
	IngestorRateLimitRPS   float64
	IngestorRateLimitBurst int

	// GuardrailPolicyPath points at the YAML flagged-phrase/allow-list
	// document. Empty means "use the built-in default".
	GuardrailPolicyPath string
	// GuardrailMaxHTMLBytes bounds candidate markup size.
	GuardrailMaxHTMLBytes int

	// InfluxURL/Token/Org/Bucket configure the optional time-series
	// event sink. Empty URL disables it.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// AggregatorWindowEvents/Window bound the Behavioral Aggregator's
	// input (spec.md §4.4 defaults: 50 events, 10 minutes).
	AggregatorWindowEvents int
	AggregatorWindow       time.Duration

	// ReorderingWindow is the best-effort event-reordering tolerance
	// (spec.md §5).
	ReorderingWindow time.Duration
}

var (
	global Config
	once   sync.Once
	loadErr error
)

// Load parses environment variables into the global Config singleton.
// Safe to call from multiple goroutines; only the first call does work.
func Load() (*Config, error) {
	once.Do(func() {
		loadErr = loadInternal()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &global, nil
}

// Get returns the singleton. If Load has not run yet, it returns the
// zero-value Config.
func Get() *Config {
	return &global
}

func loadInternal() error {
	global = Config{
		Port:                       envOr("PORT", "8080"),
		StorageURI:                 envOr("STORAGE_URI", "./data/htmlai"),
		LLMBackend:                 envOr("LLM_BACKEND", "stub"),
		LLMModel:                   envOr("LLM_MODEL", "gpt-4o-mini"),
		Epsilon:                    envFloatOr("EPSILON", 0.2),
		RegenGap:                   envFloatOr("REGEN_GAP", 1.0),
		MinTrialsEach:              envIntOr("MIN_TRIALS", 5),
		RequestDeadline:            envMillisOr("REQUEST_DEADLINE_MS", 500*time.Millisecond),
		RegenDeadline:              envMillisOr("REGEN_DEADLINE_MS", 10*time.Second),
		RegenLockTTL:               envMillisOr("REGEN_LOCK_TTL_MS", 30*time.Second),
		MonthlyEventLimitDefault:   envIntOr("MONTHLY_EVENT_LIMIT_DEFAULT", 1_000_000),
		DefaultReward:              envFloatOr("DEFAULT_REWARD", 1.0),
		OrchestratorRateLimitRPS:   envFloatOr("ORCH_RATE_LIMIT_RPS", 100),
		OrchestratorRateLimitBurst: int(envIntOr("ORCH_RATE_LIMIT_BURST", 200)),
		IngestorRateLimitRPS:       envFloatOr("INGEST_RATE_LIMIT_RPS", 20),
		IngestorRateLimitBurst:     int(envIntOr("INGEST_RATE_LIMIT_BURST", 40)),
		GuardrailPolicyPath:        envOr("GUARDRAIL_POLICY_PATH", ""),
		GuardrailMaxHTMLBytes:      int(envIntOr("GUARDRAIL_MAX_HTML_BYTES", 64*1024)),
		InfluxURL:                  envOr("INFLUXDB_URL", ""),
		InfluxToken:                envOr("INFLUXDB_TOKEN", ""),
		InfluxOrg:                  envOr("INFLUXDB_ORG", "htmlai"),
		InfluxBucket:               envOr("INFLUXDB_BUCKET", "events"),
		AggregatorWindowEvents:     int(envIntOr("AGGREGATOR_WINDOW_EVENTS", 50)),
		AggregatorWindow:           envMillisOr("AGGREGATOR_WINDOW_MS", 10*time.Minute),
		ReorderingWindow:           envMillisOr("REORDERING_WINDOW_MS", 1*time.Second),
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey != "" {
		buf := memguard.NewBufferFromBytes([]byte(apiKey))
		global.llmAPIKey = buf
	} else if global.LLMBackend == "openai" {
		return fmt.Errorf("LLM_API_KEY is required when LLM_BACKEND=openai")
	}
	return nil
}

// RevealLLMAPIKey copies the secret out of locked memory for the
// duration of a single client construction call. Callers must not
// retain the returned string beyond that use.
func (c *Config) RevealLLMAPIKey() string {
	if c.llmAPIKey == nil {
		return ""
	}
	return string(c.llmAPIKey.Bytes())
}

// Purge wipes the locked API key buffer. Call once at shutdown.
func (c *Config) Purge() {
	if c.llmAPIKey != nil {
		c.llmAPIKey.Destroy()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envIntOr(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// resetForTest clears the singleton so Load can be re-exercised with a
// different environment. Only called from this package's tests.
func resetForTest() {
	once = sync.Once{}
	loadErr = nil
	global = Config{}
}

func envMillisOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
