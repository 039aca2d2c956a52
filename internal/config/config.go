// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.strand/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model, temperature, max tokens
//   - Storage: PostgreSQL connection (DATABASE_URL override supported)
//   - Pipeline: history window, similarity top-k, score threshold,
//     context budget, generation/sync timeouts, recall scope
//   - Persona: bot identity used for generated replies
//   - Serve: listen address, rate limiting, proxy trust
//
// Security: sensitive values (the Postgres password) are masked in
// MarshalJSON/String. Validation is fail-fast with sentinel errors so
// callers can use errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the chat model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidHistoryLimit indicates the recent-history window is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidTopK indicates the similarity top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidMinScore indicates the similarity threshold is out of range.
	ErrInvalidMinScore = errors.New("invalid min score")

	// ErrInvalidContextBudget indicates the context character budget is too small.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidTimeout indicates a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidBotAccount indicates the bot account id is missing or malformed.
	ErrInvalidBotAccount = errors.New("invalid bot account id")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the message_vectors schema uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultHistoryLimit is the recent-history window H for context assembly.
	DefaultHistoryLimit = 15

	// DefaultTopK is the similarity search top-k for context assembly.
	DefaultTopK = 5

	// DefaultMinScore is the similarity threshold below which matches are dropped.
	DefaultMinScore = 0.35

	// DefaultMaxContextChars bounds the total assembled context length.
	DefaultMaxContextChars = 6000

	// DefaultGenerationTimeout is the hard deadline on the model call.
	DefaultGenerationTimeout = 30 * time.Second

	// DefaultSyncTimeout bounds a detached write-path sync run.
	DefaultSyncTimeout = 15 * time.Second
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// secrets, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Pipeline tuning
	HistoryLimit      int           `mapstructure:"history_limit" json:"history_limit"`
	TopK              int           `mapstructure:"top_k" json:"top_k"`
	MinScore          float64       `mapstructure:"min_score" json:"min_score"`
	MaxContextChars   int           `mapstructure:"max_context_chars" json:"max_context_chars"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" json:"generation_timeout"`
	SyncTimeout       time.Duration `mapstructure:"sync_timeout" json:"sync_timeout"`
	ScopeChannel      bool          `mapstructure:"scope_channel" json:"scope_channel"`
	IncludeBotMatches bool          `mapstructure:"include_bot_matches" json:"include_bot_matches"`

	// Persona configuration
	PersonaName  string `mapstructure:"persona_name" json:"persona_name"`
	PersonaVoice string `mapstructure:"persona_voice" json:"persona_voice"`
	BotAccountID string `mapstructure:"bot_account_id" json:"bot_account_id"`

	// Serve configuration
	Addr       string  `mapstructure:"addr" json:"addr"`
	RateLimit  float64 `mapstructure:"rate_limit" json:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy bool    `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".strand")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults + env carry the load.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL wins over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 1024)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "strand")
	viper.SetDefault("postgres_password", "strand_dev_password")
	viper.SetDefault("postgres_db_name", "strand")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Pipeline defaults
	viper.SetDefault("history_limit", DefaultHistoryLimit)
	viper.SetDefault("top_k", DefaultTopK)
	viper.SetDefault("min_score", DefaultMinScore)
	viper.SetDefault("max_context_chars", DefaultMaxContextChars)
	viper.SetDefault("generation_timeout", DefaultGenerationTimeout)
	viper.SetDefault("sync_timeout", DefaultSyncTimeout)
	viper.SetDefault("scope_channel", false)
	viper.SetDefault("include_bot_matches", false)

	// Persona defaults
	viper.SetDefault("persona_name", "Relay")
	viper.SetDefault("persona_voice", "friendly, concise, lightly playful")

	// Serve defaults
	viper.SetDefault("addr", "127.0.0.1:3500")
	viper.SetDefault("rate_limit", 5.0)
	viper.SetDefault("rate_burst", 10)
	viper.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit plugins,
// not via viper; Validate checks their presence per provider.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "STRAND_PROVIDER")
	mustBind("model_name", "STRAND_MODEL_NAME")
	mustBind("embedder_model", "STRAND_EMBEDDER_MODEL")
	mustBind("persona_name", "STRAND_PERSONA_NAME")
	mustBind("persona_voice", "STRAND_PERSONA_VOICE")
	mustBind("bot_account_id", "STRAND_BOT_ACCOUNT_ID")
	mustBind("addr", "STRAND_ADDR")
	mustBind("trust_proxy", "STRAND_TRUST_PROXY")
	mustBind("rate_burst", "STRAND_RATE_BURST")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked to prevent substring matching; longer ones keep the first and
// last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
