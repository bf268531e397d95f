// Package config loads server configuration from a YAML file overlaid with
// environment variables, the same two-source shape the teacher's apply
// command used for resource manifests (gopkg.in/yaml.v3), repurposed here
// for process configuration instead of cluster resources.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hollowcrest/annocache/internal/auth"
	"github.com/hollowcrest/annocache/internal/clustercache"
)

// Config is the full set of knobs the annocached binary accepts, whether
// set in a YAML file or an environment variable. Environment variables
// always win over the file, so a file can hold shared defaults while
// per-deployment secrets (Mongo credentials, JWKS URI) come from the
// environment.
type Config struct {
	Port        string `yaml:"port"`
	WorkerCount int    `yaml:"workerCount"`

	CacheEnabled   bool          `yaml:"caching"`
	CacheMaxLength int           `yaml:"cacheMaxLength"`
	CacheMaxBytes  int64         `yaml:"cacheMaxBytes"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`

	// StorageBackend selects the docstore.Store implementation: "memory",
	// "mongo", or "bolt".
	StorageBackend        string `yaml:"storageBackend"`
	BoltDataDir           string `yaml:"boltDataDir"`
	MongoConnectionString string `yaml:"mongoConnectionString"`
	MongoDatabase         string `yaml:"mongoDatabase"`
	MongoCollection       string `yaml:"mongoCollection"`

	RerumIDPrefix   string `yaml:"rerumIdPrefix"`
	RerumAgentClaim string `yaml:"rerumAgentClaim"`

	// JWKSURI empty means dev mode: agent identity comes from the
	// X-Debug-Agent header instead of a verified bearer token.
	JWKSURI  string `yaml:"jwksUri"`
	Audience string `yaml:"audience"`
	Issuer   string `yaml:"issuer"`

	AdminToken string `yaml:"adminToken"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
}

// Default returns the spec's documented defaults (§4.B's cache limits, an
// in-memory store for zero-config local runs).
func Default() Config {
	limits := clustercache.DefaultLimits()
	return Config{
		Port:        "8080",
		WorkerCount: 4,

		CacheEnabled:   true,
		CacheMaxLength: limits.MaxLength,
		CacheMaxBytes:  limits.MaxBytes,
		CacheTTL:       limits.TTL,

		StorageBackend: "memory",
		BoltDataDir:    "./data",

		RerumIDPrefix:   "https://store.rerum.io/v1/id/",
		RerumAgentClaim: "http://store.rerum.io/agent",

		LogLevel: "info",
	}
}

// Load builds a Config starting from Default, overlaying path (if non-empty)
// as YAML, then overlaying environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	getString(&c.Port, "PORT")
	getInt(&c.WorkerCount, "WORKER_COUNT")

	getBool(&c.CacheEnabled, "CACHING")
	getInt(&c.CacheMaxLength, "CACHE_MAX_LENGTH")
	getInt64(&c.CacheMaxBytes, "CACHE_MAX_BYTES")
	getDuration(&c.CacheTTL, "CACHE_TTL")

	getString(&c.StorageBackend, "STORAGE_BACKEND")
	getString(&c.BoltDataDir, "BOLT_DATA_DIR")
	getString(&c.MongoConnectionString, "MONGO_CONNECTION_STRING")
	getString(&c.MongoDatabase, "MONGO_DATABASE")
	getString(&c.MongoCollection, "MONGO_COLLECTION")

	getString(&c.RerumIDPrefix, "RERUM_ID_PREFIX")
	getString(&c.RerumAgentClaim, "RERUM_AGENT_CLAIM")

	getString(&c.JWKSURI, "JWKS_URI")
	getString(&c.Audience, "AUDIENCE")
	getString(&c.Issuer, "ISSUER")

	getString(&c.AdminToken, "ADMIN_TOKEN")

	getString(&c.LogLevel, "LOG_LEVEL")
	getBool(&c.LogJSON, "LOG_JSON")

	if c.MongoConnectionString != "" && c.StorageBackend == "memory" {
		c.StorageBackend = "mongo"
	}
}

// CacheLimits adapts the config's cache fields to clustercache.Limits.
func (c Config) CacheLimits() clustercache.Limits {
	return clustercache.Limits{
		MaxLength: c.CacheMaxLength,
		MaxBytes:  c.CacheMaxBytes,
		TTL:       c.CacheTTL,
	}
}

// AuthConfig adapts the config's auth fields to auth.Config. A non-empty
// JWKSURI is the signal the caller uses to decide whether to construct a
// real auth.Verifier or run in dev/debug-header mode.
func (c Config) AuthConfig() auth.Config {
	return auth.Config{
		JWKSURI:    c.JWKSURI,
		Audience:   c.Audience,
		Issuer:     c.Issuer,
		AgentClaim: c.RerumAgentClaim,
	}
}

func getString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func getBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func getInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func getInt64(dst *int64, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func getDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
