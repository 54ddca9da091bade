// Package config loads EvalForge's typed configuration from
// environment variables: provider credentials, LLM/embedding
// settings, store settings, PII salt, batch/timeout/budget tunables,
// approval auth, and notification settings.
package config

import "time"

// ProviderConfig holds credentials and tuning for the external
// observability provider (out of scope beyond its interface contract).
type ProviderConfig struct {
	APIKey            string
	AppKey            string
	Site              string
	TraceLookbackHrs  int
	QualityThreshold  float64
	RateLimitMaxSleep time.Duration
}

// LLMConfig holds the generation model settings. Backend selects the
// provider: "anthropic" (hosted, the default) or "local" (an
// Ollama-compatible server at LocalEndpoint).
type LLMConfig struct {
	Backend       string
	APIKey        string
	Project       string
	Location      string
	Model         string
	LocalModel    string
	LocalEndpoint string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
}

// EmbeddingConfig holds the embedding model settings.
type EmbeddingConfig struct {
	Model     string
	Location  string
	Dimension int
	Provider  string // "remote" or "local"
	Timeout   time.Duration
}

// StoreConfig holds document-store connection settings.
type StoreConfig struct {
	URI              string
	Database         string
	CollectionPrefix string
	GoogleCloudProj  string
}

// PIIConfig holds the redaction salt.
type PIIConfig struct {
	Salt string
}

// BatchConfig holds the batch-size/timeout/budget tunables shared by
// every batch-oriented service (extraction, dedup, the three
// generators).
type BatchConfig struct {
	DefaultBatchSize  int
	MaxBatchSize      int
	PerItemTimeout    time.Duration
	PerItemCostBudget float64
	RunCostBudget     float64
}

// ApprovalConfig holds the approval-service API key.
type ApprovalConfig struct {
	APIKey string
}

// NotificationConfig holds the webhook delivery target.
type NotificationConfig struct {
	SlackWebhookURL string
	Timeout         time.Duration
}

// SchedulerConfig holds the per-stage intervals the scheduler binary
// fires batch runs on.
type SchedulerConfig struct {
	IngestionInterval  time.Duration
	ExtractionInterval time.Duration
	DedupInterval      time.Duration
	GeneratorInterval  time.Duration
	DashboardInterval  time.Duration
}

// ServerConfig holds the HTTP bind address for a given service.
type ServerConfig struct {
	Port string
}

// LoggingConfig holds the structured-logging format/level.
type LoggingConfig struct {
	Level  string
	Format string
}

// Config is the full typed configuration for every EvalForge service
// binary. Each binary only reads the groups relevant to it.
type Config struct {
	Server       ServerConfig
	Provider     ProviderConfig
	LLM          LLMConfig
	Embedding    EmbeddingConfig
	Store        StoreConfig
	PII          PIIConfig
	Batch        BatchConfig
	Approval     ApprovalConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig
	Logging      LoggingConfig
}

// Load reads every environment variable EvalForge recognizes and
// returns a fully-populated Config, or a *MissingVariablesError
// naming every required-but-absent variable.
func Load() (*Config, error) {
	m := &missingVars{}

	cfg := &Config{
		Server: ServerConfig{
			Port: optionalString("SERVER_PORT", "8080"),
		},
		Provider: ProviderConfig{
			APIKey:            requireString(m, "OBSERVABILITY_API_KEY"),
			AppKey:            requireString(m, "OBSERVABILITY_APP_KEY"),
			Site:              optionalString("OBSERVABILITY_SITE", "datadoghq.com"),
			TraceLookbackHrs:  optionalInt("TRACE_LOOKBACK_HOURS", 24),
			QualityThreshold:  optionalFloat("QUALITY_THRESHOLD", 0.5),
			RateLimitMaxSleep: optionalDuration("PROVIDER_RATE_LIMIT_MAX_SLEEP", 10*time.Second),
		},
		LLM: LLMConfig{
			Backend:       optionalString("LLM_BACKEND", "anthropic"),
			Project:       optionalString("LLM_PROJECT", ""),
			Location:      optionalString("LLM_LOCATION", "us-central1"),
			Model:         optionalString("LLM_MODEL", "claude-3-5-sonnet-20241022"),
			LocalModel:    optionalString("LLM_LOCAL_MODEL", "llama3"),
			LocalEndpoint: optionalString("LLM_LOCAL_ENDPOINT", "http://127.0.0.1:11434"),
			Temperature:   optionalFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:     optionalInt("LLM_MAX_TOKENS", 2048),
			Timeout:       optionalDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Embedding: EmbeddingConfig{
			Model:     optionalString("EMBEDDING_MODEL", "text-embedding-3-small"),
			Location:  optionalString("EMBEDDING_LOCATION", "us-central1"),
			Dimension: optionalInt("EMBEDDING_DIMENSION", 768),
			Provider:  optionalString("EMBEDDING_PROVIDER", "local"),
			Timeout:   optionalDuration("EMBEDDING_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			URI:              requireString(m, "STORE_URI"),
			Database:         optionalString("STORE_DATABASE", "evalforge"),
			CollectionPrefix: optionalString("FIRESTORE_COLLECTION_PREFIX", "evalforge_"),
			GoogleCloudProj:  optionalString("GOOGLE_CLOUD_PROJECT", ""),
		},
		PII: PIIConfig{
			Salt: requireString(m, "PII_SALT"),
		},
		Batch: BatchConfig{
			DefaultBatchSize:  optionalInt("BATCH_SIZE_DEFAULT", 25),
			MaxBatchSize:      optionalInt("BATCH_SIZE_MAX", 200),
			PerItemTimeout:    optionalDuration("PER_ITEM_TIMEOUT", 45*time.Second),
			PerItemCostBudget: optionalFloat("PER_ITEM_COST_BUDGET", 0.25),
			RunCostBudget:     optionalFloat("RUN_COST_BUDGET", 10.0),
		},
		Approval: ApprovalConfig{
			APIKey: requireString(m, "APPROVAL_API_KEY"),
		},
		Notification: NotificationConfig{
			SlackWebhookURL: optionalString("SLACK_WEBHOOK_URL", ""),
			Timeout:         optionalDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			IngestionInterval:  optionalDuration("SCHEDULE_INGESTION_INTERVAL", 15*time.Minute),
			ExtractionInterval: optionalDuration("SCHEDULE_EXTRACTION_INTERVAL", 5*time.Minute),
			DedupInterval:      optionalDuration("SCHEDULE_DEDUP_INTERVAL", 5*time.Minute),
			GeneratorInterval:  optionalDuration("SCHEDULE_GENERATOR_INTERVAL", 10*time.Minute),
			DashboardInterval:  optionalDuration("SCHEDULE_DASHBOARD_INTERVAL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  optionalString("LOG_LEVEL", "info"),
			Format: optionalString("LOG_FORMAT", "json"),
		},
	}

	// The hosted backend needs a provider credential; the local
	// backend does not, so the requirement is conditional.
	if cfg.LLM.Backend == "local" {
		cfg.LLM.APIKey = optionalString("ANTHROPIC_API_KEY", "")
	} else {
		cfg.LLM.APIKey = requireString(m, "ANTHROPIC_API_KEY")
	}

	if err := m.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
