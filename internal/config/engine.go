package config

import (
	"fmt"
	"time"
)

// EngineConfig holds the review engine knobs.
type EngineConfig struct {
	// GitDir is the path of the git repository the engine operates on.
	GitDir string
	// GitOpTimeout bounds each object-store operation (diff, merge, walk).
	GitOpTimeout time.Duration
	// MaxPatchSets caps the number of patch sets a single change may grow.
	MaxPatchSets int
	// SubmitRetries bounds the compare-and-swap retries when a branch tip
	// advances during submit.
	SubmitRetries int
	// PolicyPath is the TOML project policy file; empty means defaults only.
	PolicyPath string
	// RedisAddr enables the change snapshot cache when set.
	RedisAddr string
}

// LoadEngineConfigFromEnv loads engine configuration from environment variables.
func LoadEngineConfigFromEnv() EngineConfig {
	return EngineConfig{
		GitDir:        GetEnv("GIT_DIR", "/var/lib/review/repo.git"),
		GitOpTimeout:  GetEnvDuration("ENGINE_GIT_OP_TIMEOUT", 10*time.Second),
		MaxPatchSets:  GetEnvInt("ENGINE_MAX_PATCH_SETS", 1500),
		SubmitRetries: GetEnvInt("ENGINE_SUBMIT_RETRIES", 3),
		PolicyPath:    GetEnv("PROJECT_POLICY_PATH", ""),
		RedisAddr:     GetEnv("REDIS_ADDR", ""),
	}
}

// Validate validates engine configuration.
func (c EngineConfig) Validate() error {
	if c.GitDir == "" {
		return fmt.Errorf("GIT_DIR must not be empty")
	}
	if c.GitOpTimeout <= 0 {
		return fmt.Errorf("ENGINE_GIT_OP_TIMEOUT must be greater than 0")
	}
	if c.MaxPatchSets <= 0 {
		return fmt.Errorf("ENGINE_MAX_PATCH_SETS must be greater than 0")
	}
	if c.SubmitRetries <= 0 {
		return fmt.Errorf("ENGINE_SUBMIT_RETRIES must be greater than 0")
	}
	return nil
}
