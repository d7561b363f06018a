package types

import "time"

// Config is the root configuration for the orchestration core.
type Config struct {
	Session  SessionConfig  `json:"session"`
	Retry    RetryConfig    `json:"retry"`
	Condense CondenseConfig `json:"condense"`
	Ask      AskConfig      `json:"ask"`
	Health   HealthConfig   `json:"health"`
	Dispatch DispatchConfig `json:"dispatch"`
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
}

// SessionConfig controls the per-session conversation loop.
type SessionConfig struct {
	// MaxSteps bounds agentic loop iterations per session.
	MaxSteps int `json:"maxSteps"`
	// MistakeCeiling is the consecutive-mistake count that forces human
	// intervention instead of another model retry.
	MistakeCeiling int `json:"mistakeCeiling"`
	// TokenBudget is the serialized-history size that triggers condensation.
	TokenBudget int `json:"tokenBudget"`
	// MaxOutputTokens caps generation length per request.
	MaxOutputTokens int `json:"maxOutputTokens"`
	// Temperature for model sampling.
	Temperature float64 `json:"temperature"`
}

// RetryConfig controls transport retry behavior before first content.
type RetryConfig struct {
	MaxRetries      int           `json:"maxRetries"`
	InitialInterval time.Duration `json:"initialInterval"`
	MaxInterval     time.Duration `json:"maxInterval"`
	MaxElapsedTime  time.Duration `json:"maxElapsedTime"`
}

// CondenseConfig controls history condensation.
type CondenseConfig struct {
	// MinMessagesToKeep is the suffix of recent messages never condensed.
	MinMessagesToKeep int `json:"minMessagesToKeep"`
	// SummaryMaxTokens caps the generated summary length.
	SummaryMaxTokens int `json:"summaryMaxTokens"`
}

// AskConfig controls the ask coordinator.
type AskConfig struct {
	// Timeout after which an unresolved ask counts as timed out. Detection
	// only: the ask is kept and resolution is still honored.
	Timeout time.Duration `json:"timeout"`
}

// HealthConfig controls the registry health monitor.
type HealthConfig struct {
	// Interval between health-check scans.
	Interval time.Duration `json:"interval"`
	// StuckAskThreshold is the ask age that triggers a warning.
	StuckAskThreshold time.Duration `json:"stuckAskThreshold"`
}

// DispatchConfig controls tool execution.
type DispatchConfig struct {
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `json:"toolTimeout"`
}

// ServerConfig controls the HTTP host channel.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// DefaultConfig returns the default configuration. The health and ask
// values are tuned operational defaults, not protocol constants.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MaxSteps:        50,
			MistakeCeiling:  3,
			TokenBudget:     150000,
			MaxOutputTokens: 8192,
			Temperature:     0.7,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  2 * time.Minute,
		},
		Condense: CondenseConfig{
			MinMessagesToKeep: 4,
			SummaryMaxTokens:  2000,
		},
		Ask: AskConfig{
			Timeout: 5 * time.Minute,
		},
		Health: HealthConfig{
			Interval:          30 * time.Second,
			StuckAskThreshold: 2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			ToolTimeout: time.Minute,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7433,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}
