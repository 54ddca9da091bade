// Package bootstrap holds the startup plumbing every service binary
// shares: configuration loading, logger construction, document-store
// connection, client wiring, and graceful HTTP serving. Each
// cmd/*/main.go stays a short wiring script on top of this.
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evalforge/evalforge/internal/config"
	"github.com/evalforge/evalforge/pkg/embedding"
	"github.com/evalforge/evalforge/pkg/llm"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Load reads the .env file (development convenience), then the full
// typed configuration, and builds the shared logger. A missing
// required variable is fatal here, before any I/O happens.
func Load() (*config.Config, *logrus.Logger) {
	config.LoadDotEnv("")

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.NewLogger("info", "json")
		bootLogger.WithError(err).Fatal("configuration is incomplete")
	}
	return cfg, logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
}

// ConnectStore connects to the document store and wires the gateway.
func ConnectStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*mongo.Client, *store.Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.URI))
	if err != nil {
		return nil, nil, ferrors.FailedTo("connect to document store", err)
	}

	gateway := store.NewGateway(client.Database(cfg.Store.Database), cfg.Store.CollectionPrefix, logger)
	return client, gateway, nil
}

// NewLLMClient builds the shared LLM client for the configured
// backend: the hosted Anthropic provider by default, or an
// Ollama-compatible local server when LLM_BACKEND=local. The
// USE_MOCK_LLM escape hatch overrides both for development without
// any model at all.
func NewLLMClient(cfg *config.Config, logger *logrus.Logger) (llm.Client, error) {
	if os.Getenv("USE_MOCK_LLM") == "true" {
		logger.Warn("USE_MOCK_LLM is set; all model calls return canned output")
		return &llm.MockClient{}, nil
	}

	switch cfg.LLM.Backend {
	case "local":
		model, err := ollama.New(
			ollama.WithModel(cfg.LLM.LocalModel),
			ollama.WithServerURL(cfg.LLM.LocalEndpoint),
		)
		if err != nil {
			return nil, ferrors.FailedTo("construct local model client", err)
		}
		logger.WithFields(logging.LLMFields("construct", cfg.LLM.LocalModel).Custom("backend", "local").ToLogrus()).
			Info("using local model backend")
		return llm.NewLangchainClient(model, cfg.LLM.LocalModel, cfg.LLM.Temperature, cfg.LLM.MaxTokens), nil
	case "", "anthropic":
		return llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	default:
		return nil, ferrors.New(ferrors.KindConfigurationError, "unknown LLM_BACKEND: "+cfg.LLM.Backend, nil)
	}
}

// NewEmbeddingClient builds the embedding client on the local,
// network-free provider. cfg.Embedding.Provider is not consulted; no
// remote provider is wired in.
func NewEmbeddingClient(cfg *config.Config) *embedding.Client {
	provider := embedding.NewLocalProvider(cfg.Embedding.Dimension)
	return embedding.NewClient(provider, cfg.Embedding.Dimension)
}

// Serve runs handler on port until SIGINT/SIGTERM, then shuts down
// gracefully with a 15s drain window.
func Serve(port string, handler http.Handler, logger *logrus.Logger) {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.WithFields(logging.NewFields().Component("server").Custom("port", port).Version(Version).ToLogrus()).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete")
	}
}

// RedactedConfigSummary is the display-safe configuration block each
// health endpoint returns; secrets never appear here.
func RedactedConfigSummary(cfg *config.Config) map[string]any {
	return map[string]any{
		"collectionPrefix": cfg.Store.CollectionPrefix,
		"database":         cfg.Store.Database,
		"model":            cfg.LLM.Model,
		"embeddingDim":     cfg.Embedding.Dimension,
		"defaultBatchSize": cfg.Batch.DefaultBatchSize,
		"perItemTimeout":   cfg.Batch.PerItemTimeout.String(),
	}
}
