package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/strandchat/strand/api"
	"github.com/strandchat/strand/db"
	"github.com/strandchat/strand/internal/assemble"
	"github.com/strandchat/strand/internal/config"
	"github.com/strandchat/strand/internal/embed"
	"github.com/strandchat/strand/internal/generate"
	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/persona"
	"github.com/strandchat/strand/internal/pipeline"
	"github.com/strandchat/strand/internal/syncer"
	"github.com/strandchat/strand/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the process logger from environment knobs.
// STRAND_LOG_LEVEL: debug|info|warn|error. STRAND_LOG_JSON: any non-empty
// value switches to JSON output.
func newLogger() log.Logger {
	level := slog.LevelInfo
	switch os.Getenv("STRAND_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("STRAND_LOG_JSON") != "",
	})
}

// runServe wires the full service and blocks until shutdown.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("starting strand", "version", Version, "config", cfg)

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, embedder, modelName, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, err := message.NewStore(pool, logger.With("component", "message"))
	if err != nil {
		return fmt.Errorf("creating message store: %w", err)
	}
	index, err := vector.NewIndex(pool, logger.With("component", "vector"))
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}
	embedClient, err := embed.NewClient(embedder)
	if err != nil {
		return fmt.Errorf("creating embed client: %w", err)
	}

	coord, err := syncer.New(embedClient, index, cfg.SyncTimeout, logger.With("component", "syncer"))
	if err != nil {
		return fmt.Errorf("creating syncer: %w", err)
	}
	defer func() {
		logger.Info("draining background syncs")
		coord.Wait()
	}()

	assembler, err := assemble.New(store, embedClient, index, assemble.Options{
		HistoryLimit:      cfg.HistoryLimit,
		TopK:              cfg.TopK,
		MinScore:          cfg.MinScore,
		MaxContextChars:   cfg.MaxContextChars,
		ScopeChannel:      cfg.ScopeChannel,
		IncludeBotMatches: cfg.IncludeBotMatches,
	}, logger.With("component", "assemble"))
	if err != nil {
		return fmt.Errorf("creating assembler: %w", err)
	}

	generator, err := generate.New(g, generate.Options{
		ModelName:   modelName,
		Timeout:     cfg.GenerationTimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	botAccount, err := uuid.Parse(cfg.BotAccountID)
	if err != nil {
		return fmt.Errorf("parsing bot account id: %w", err)
	}

	pipe, err := pipeline.New(assembler, generator, store, coord, pipeline.Config{
		Persona:      persona.Config{Name: cfg.PersonaName, Voice: cfg.PersonaVoice},
		BotAccountID: botAccount,
	}, logger.With("component", "pipeline"))
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	srv := api.NewServer(pool,
		api.NewMessageHandler(store, coord, logger.With("component", "api")),
		api.NewAskHandler(store, coord, pipe, logger.With("component", "api")),
		api.NewSimilarHandler(embedClient, index, api.SimilarConfig{
			TopK:     cfg.TopK,
			MinScore: cfg.MinScore,
		}, logger.With("component", "api")),
		api.Config{
			RateLimit:  cfg.RateLimit,
			RateBurst:  cfg.RateBurst,
			TrustProxy: cfg.TrustProxy,
		},
		logger.With("component", "http"))

	return srv.Run(ctx, cfg.Addr)
}

// providePool runs migrations and creates the PostgreSQL connection pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider and
// returns the instance, the embedder, and the fully-qualified model name.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, string, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, nil, "", fmt.Errorf("initializing genkit with openai provider")
		}
		embedder := genkit.LookupEmbedder(g, coreapi.NewName("openai", cfg.EmbedderModel))
		if embedder == nil {
			return nil, nil, "", fmt.Errorf("looking up openai embedder %q", cfg.EmbedderModel)
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
		return g, embedder, "openai/" + cfg.ModelName, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, "", fmt.Errorf("initializing genkit with gemini provider")
		}
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, embedder, "googleai/" + cfg.ModelName, nil
	}
}
