package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the TTS gateway service
type Config struct {
	// Server configuration
	Port            string `envconfig:"PORT" default:"8080"`
	MaxRequestBytes int64  `envconfig:"MAX_REQUEST_BYTES" default:"1048576"` // Upper bound on the JSON request body

	// Voice presets. The service exposes exactly two voices.
	MaleVoice   string `envconfig:"VOICE_MALE" default:"en-US-GuyNeural"`
	FemaleVoice string `envconfig:"VOICE_FEMALE" default:"en-US-JennyNeural"`

	// Edge read-aloud speech service
	EdgeEndpoint           string `envconfig:"EDGE_TTS_ENDPOINT" default:"wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"`
	EdgeTrustedClientToken string `envconfig:"EDGE_TTS_TRUSTED_CLIENT_TOKEN" default:"6A5AA1D4EAFF4E9FB37E23D68491D6F4"`
	EdgeChromiumVersion    string `envconfig:"EDGE_TTS_CHROMIUM_VERSION" default:"130.0.2849.68"`
	EdgeOutputFormat       string `envconfig:"EDGE_TTS_OUTPUT_FORMAT" default:"audio-24khz-48kbitrate-mono-mp3"`
	EdgeMaxChunkBytes      int    `envconfig:"EDGE_TTS_MAX_CHUNK_BYTES" default:"4096"` // Max escaped text bytes per SSML turn
	EdgeDialTimeout        int    `envconfig:"EDGE_TTS_DIAL_TIMEOUT" default:"10"`      // seconds

	// Whole-request synthesis deadline
	SynthesisTimeout int `envconfig:"SYNTHESIS_TIMEOUT" default:"60"` // seconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that envconfig cannot enforce on its own
func (c *Config) Validate() error {
	if c.MaleVoice == "" {
		return fmt.Errorf("VOICE_MALE must not be empty")
	}
	if c.FemaleVoice == "" {
		return fmt.Errorf("VOICE_FEMALE must not be empty")
	}
	if c.EdgeEndpoint == "" {
		return fmt.Errorf("EDGE_TTS_ENDPOINT must not be empty")
	}
	if c.EdgeMaxChunkBytes < 64 {
		return fmt.Errorf("EDGE_TTS_MAX_CHUNK_BYTES must be at least 64, got %d", c.EdgeMaxChunkBytes)
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be positive, got %d", c.SynthesisTimeout)
	}
	if c.EdgeDialTimeout <= 0 {
		return fmt.Errorf("EDGE_TTS_DIAL_TIMEOUT must be positive, got %d", c.EdgeDialTimeout)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BYTES must be positive, got %d", c.MaxRequestBytes)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
