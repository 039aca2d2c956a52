package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Validate checks the configuration for invalid values.
// Fail-fast: the first violation found is returned.
func (c *Config) Validate() error {
	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return c.validatePersona()
}

func (c *Config) validateAI() error {
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: provider %q requires GEMINI_API_KEY or GOOGLE_API_KEY", ErrInvalidProvider, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: provider %q requires OPENAI_API_KEY", ErrInvalidProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: %s, %s)", ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be within [0, 2])", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 || c.MaxTokens > 65536 {
		return fmt.Errorf("%w: %d (must be within (0, 65536])", ErrInvalidMaxTokens, c.MaxTokens)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be within [1, 65535])", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.HistoryLimit < 1 || c.HistoryLimit > 200 {
		return fmt.Errorf("%w: %d (must be within [1, 200])", ErrInvalidHistoryLimit, c.HistoryLimit)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be within [1, 100])", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: %v (must be within [0, 1])", ErrInvalidMinScore, c.MinScore)
	}
	if c.MaxContextChars < 500 {
		return fmt.Errorf("%w: %d (must be at least 500)", ErrInvalidContextBudget, c.MaxContextChars)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("%w: generation_timeout must be positive", ErrInvalidTimeout)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("%w: sync_timeout must be positive", ErrInvalidTimeout)
	}
	return nil
}

func (c *Config) validatePersona() error {
	if c.BotAccountID == "" {
		return fmt.Errorf("%w: bot_account_id must be set", ErrInvalidBotAccount)
	}
	if _, err := uuid.Parse(c.BotAccountID); err != nil {
		return fmt.Errorf("%w: %q is not a UUID", ErrInvalidBotAccount, c.BotAccountID)
	}
	return nil
}
