// Package config loads contentpulse settings from TOML files, .env files and
// CONTENTPULSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/pipeline"
)

const envPrefix = "CONTENTPULSE_"

// Config is the complete runtime configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	AI        AIConfig        `toml:"ai"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Retention RetentionConfig `toml:"retention"`
	Topics    []TopicConfig   `toml:"topics" validate:"unique=Name,dive"`
	Redis     RedisConfig     `toml:"redis"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Archive   ArchiveConfig   `toml:"archive"`
	Logging   LoggingConfig   `toml:"logging"`
}

type StoreConfig struct {
	Path string `toml:"path" validate:"required"` // Badger directory
}

// AIConfig selects embedding and generation vendors. See ai.Config.
type AIConfig struct {
	EmbeddingProvider string   `toml:"embedding_provider" validate:"oneof=openai cohere gemini"`
	GeneratorProvider string   `toml:"generator_provider" validate:"oneof=openai anthropic gemini"`
	EmbeddingHost     string   `toml:"embedding_host"`
	GeneratorHost     string   `toml:"generator_host"`
	EmbeddingModel    string   `toml:"embedding_model" validate:"required"`
	GeneratorModel    string   `toml:"generator_model" validate:"required"`
	EmbeddingAPIKey   string   `toml:"embedding_api_key"`
	GeneratorAPIKey   string   `toml:"generator_api_key"`
	Dimensions        int      `toml:"dimensions" validate:"gt=0"`
	Temperature       float64  `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int      `toml:"max_tokens" validate:"gt=0"`
	RequestTimeout    Duration `toml:"request_timeout" validate:"gt=0"`
	EmbeddingRate     float64  `toml:"embedding_rate" validate:"gte=0"`  // Calls per second, 0 for unlimited
	GenerationRate    float64  `toml:"generation_rate" validate:"gte=0"` // Calls per second, 0 for unlimited
}

// PipelineConfig tunes the orchestrator and its stages.
type PipelineConfig struct {
	Schedule             string   `toml:"schedule" validate:"required,cron"`
	TickInterval         Duration `toml:"tick_interval" validate:"gt=0"`
	Heartbeat            Duration `toml:"heartbeat" validate:"gt=0"`
	BatchSize            int      `toml:"batch_size" validate:"gt=0"`
	EmbeddingParallelism int      `toml:"embedding_parallelism" validate:"gt=0"`
	IngestParallelism    int      `toml:"ingest_parallelism" validate:"gt=0"`
	PerSourceLimit       int      `toml:"per_source_limit" validate:"gt=0"`
	MaxCandidates        int      `toml:"max_candidates" validate:"gt=0"`
	MinSimilarity        float64  `toml:"min_similarity" validate:"gte=-1,lte=1"`
	SynthesisParallelism int      `toml:"synthesis_parallelism" validate:"gt=0"`
	PromptBudget         int      `toml:"prompt_budget" validate:"gt=0"`
	SnippetChars         int      `toml:"snippet_chars" validate:"gt=0"`
	StageRetries         int      `toml:"stage_retries" validate:"gte=0"`
	SettleDelay          Duration `toml:"settle_delay" validate:"gte=0"`
	CycleTimeout         Duration `toml:"cycle_timeout" validate:"gt=0"`
}

// RetentionConfig bounds what cleanup keeps. Items limits apply per source.
type RetentionConfig struct {
	ItemsMaxAge       Duration `toml:"items_max_age" validate:"gt=0"`
	ItemsMaxCount     int      `toml:"items_max_count" validate:"gt=0"`
	SuggestionsMaxAge Duration `toml:"suggestions_max_age" validate:"gt=0"`
	SuggestionsMax    int      `toml:"suggestions_max_count" validate:"gt=0"`
	RunsMaxAge        Duration `toml:"runs_max_age" validate:"gt=0"`
}

// TopicConfig is a category with its news feeds, subreddits and retrieval
// queries. Topics without queries get the default query expansions.
type TopicConfig struct {
	Name       string   `toml:"name" validate:"required"`
	Label      string   `toml:"label"`
	Queries    []string `toml:"queries"`
	FeedURLs   []string `toml:"feeds" validate:"dive,url"`
	Subreddits []string `toml:"subreddits" validate:"dive,required"`
	FullText   bool     `toml:"full_text"`
	MaxItems   int      `toml:"max_items" validate:"gte=0"`
}

// RedisConfig enables the cross-replica cycle lock when Addr is set.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db" validate:"gte=0"`
	LockTTL  Duration `toml:"lock_ttl" validate:"gte=0"`
}

// KafkaConfig enables run reports when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// ArchiveConfig enables S3 archiving of expiring items when Bucket is set.
type ArchiveConfig struct {
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Region   string `toml:"region" validate:"required_with=Bucket"`
	Endpoint string `toml:"endpoint" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Store: StoreConfig{Path: "./contentpulse-data"},
		AI: AIConfig{
			EmbeddingProvider: aiDefaults.EmbeddingProvider,
			GeneratorProvider: aiDefaults.GeneratorProvider,
			EmbeddingHost:     aiDefaults.EmbeddingHost,
			GeneratorHost:     aiDefaults.GeneratorHost,
			EmbeddingModel:    aiDefaults.EmbeddingModel,
			GeneratorModel:    aiDefaults.GeneratorModel,
			Dimensions:        aiDefaults.Dimensions,
			Temperature:       aiDefaults.Temperature,
			MaxTokens:         aiDefaults.MaxTokens,
			RequestTimeout:    Duration(aiDefaults.RequestTimeout),
		},
		Pipeline: PipelineConfig{
			Schedule:             pipeline.DefaultSchedule,
			TickInterval:         Duration(time.Minute),
			Heartbeat:            Duration(4 * time.Hour),
			BatchSize:            20,
			EmbeddingParallelism: 2,
			IngestParallelism:    4,
			PerSourceLimit:       5,
			MaxCandidates:        10,
			SynthesisParallelism: 2,
			PromptBudget:         12000,
			SnippetChars:         600,
			StageRetries:         1,
			SettleDelay:          Duration(2 * time.Minute),
			CycleTimeout:         Duration(2 * time.Hour),
		},
		Retention: RetentionConfig{
			ItemsMaxAge:       Duration(pipeline.DefaultRetention.Items.MaxAge),
			ItemsMaxCount:     pipeline.DefaultRetention.Items.MaxItems,
			SuggestionsMaxAge: Duration(pipeline.DefaultRetention.Suggestions.MaxAge),
			SuggestionsMax:    pipeline.DefaultRetention.Suggestions.MaxItems,
			RunsMaxAge:        Duration(pipeline.DefaultRetention.RunsMaxAge),
		},
		Topics: DefaultTopics(),
		Redis:  RedisConfig{LockTTL: Duration(3 * time.Hour)},
		Kafka:  KafkaConfig{Topic: "contentpulse.runs"},
		Archive: ArchiveConfig{
			Prefix: "contentpulse/",
			Region: "us-east-1",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultTopics covers every suggestion label with a BBC News feed and the
// matching subreddit.
func DefaultTopics() []TopicConfig {
	feeds := map[string]string{
		"general":       "https://feeds.bbci.co.uk/news/rss.xml",
		"technology":    "https://feeds.bbci.co.uk/news/technology/rss.xml",
		"health":        "https://feeds.bbci.co.uk/news/health/rss.xml",
		"sports":        "https://feeds.bbci.co.uk/sport/rss.xml",
		"politics":      "https://feeds.bbci.co.uk/news/politics/rss.xml",
		"science":       "https://feeds.bbci.co.uk/news/science_and_environment/rss.xml",
		"business":      "https://feeds.bbci.co.uk/news/business/rss.xml",
		"entertainment": "https://feeds.bbci.co.uk/news/entertainment_and_arts/rss.xml",
	}
	subreddits := map[string]string{"general": "news"}

	topics := make([]TopicConfig, 0, len(ai.Labels))
	for _, label := range ai.Labels {
		sub, ok := subreddits[label]
		if !ok {
			sub = label
		}
		topics = append(topics, TopicConfig{
			Name:       label,
			Label:      label,
			FeedURLs:   []string{feeds[label]},
			Subreddits: []string{sub},
			MaxItems:   25,
		})
	}
	return topics
}

// Load builds a Config from the defaults, then each TOML file in order, then
// the environment. Later files override earlier ones. The result is validated.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// [[topics]] tables replace the topic list instead of extending it.
		topics := cfg.Topics
		cfg.Topics = nil
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		if cfg.Topics == nil {
			cfg.Topics = topics
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// applyEnvOverrides applies CONTENTPULSE_* variables. Vendor keys such as
// COHERE_API_KEY fill credentials the file and prefixed variables left empty.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("DB_PATH", &cfg.Store.Path)

	str("EMBEDDING_PROVIDER", &cfg.AI.EmbeddingProvider)
	str("EMBEDDING_HOST", &cfg.AI.EmbeddingHost)
	str("EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	str("EMBEDDING_API_KEY", &cfg.AI.EmbeddingAPIKey)
	str("GENERATOR_PROVIDER", &cfg.AI.GeneratorProvider)
	str("GENERATOR_HOST", &cfg.AI.GeneratorHost)
	str("GENERATOR_MODEL", &cfg.AI.GeneratorModel)
	str("GENERATOR_API_KEY", &cfg.AI.GeneratorAPIKey)
	num("DIMENSIONS", &cfg.AI.Dimensions)

	str("SCHEDULE", &cfg.Pipeline.Schedule)
	num("BATCH_SIZE", &cfg.Pipeline.BatchSize)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)

	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &cfg.Kafka.Topic)

	str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	str("ARCHIVE_PREFIX", &cfg.Archive.Prefix)
	str("ARCHIVE_REGION", &cfg.Archive.Region)
	str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	vendorKey(&cfg.AI.EmbeddingAPIKey, cfg.AI.EmbeddingProvider)
	vendorKey(&cfg.AI.GeneratorAPIKey, cfg.AI.GeneratorProvider)

	return errors.Join(errs...)
}

var vendorKeys = map[string]string{
	ai.ProviderOpenAI:    "OPENAI_API_KEY",
	ai.ProviderCohere:    "COHERE_API_KEY",
	ai.ProviderGemini:    "GEMINI_API_KEY",
	ai.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

func vendorKey(dst *string, provider string) {
	if *dst != "" {
		return
	}
	if name, ok := vendorKeys[strings.ToLower(provider)]; ok {
		*dst = os.Getenv(name)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := pipeline.ParseSchedule(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and the AI vendor settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.ProviderConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ProviderConfig converts the [ai] section into an ai.Config.
func (c *Config) ProviderConfig() *ai.Config {
	a := c.AI
	return ai.NewConfig(
		ai.WithEmbeddingProvider(a.EmbeddingProvider),
		ai.WithGeneratorProvider(a.GeneratorProvider),
		ai.WithEmbeddingHost(a.EmbeddingHost),
		ai.WithGeneratorHost(a.GeneratorHost),
		ai.WithEmbeddingModel(a.EmbeddingModel),
		ai.WithGeneratorModel(a.GeneratorModel),
		ai.WithEmbeddingAPIKey(a.EmbeddingAPIKey),
		ai.WithGeneratorAPIKey(a.GeneratorAPIKey),
		ai.WithDimensions(a.Dimensions),
		ai.WithTemperature(a.Temperature),
		ai.WithMaxTokens(a.MaxTokens),
		ai.WithRequestTimeout(a.RequestTimeout.Std()),
	)
}

// PipelineTopics converts the configured topics for the orchestrator.
func (c *Config) PipelineTopics() []pipeline.Topic {
	defaults := make(map[string]pipeline.Topic)
	for _, t := range pipeline.DefaultTopics() {
		defaults[t.Name] = t
	}

	topics := make([]pipeline.Topic, 0, len(c.Topics))
	for _, t := range c.Topics {
		label := t.Label
		if label == "" {
			label = t.Name
		}
		queries := t.Queries
		if len(queries) == 0 {
			if d, ok := defaults[t.Name]; ok {
				queries = d.Queries
			} else {
				queries = []string{fmt.Sprintf("Latest %s news and developments", t.Name)}
			}
		}
		topics = append(topics, pipeline.Topic{Name: t.Name, Label: label, Queries: queries})
	}
	return topics
}

// RetentionPolicy converts the [retention] section.
func (c *Config) RetentionPolicy() pipeline.RetentionPolicy {
	r := c.Retention
	return pipeline.RetentionPolicy{
		Items:       pipeline.Retention{MaxAge: r.ItemsMaxAge.Std(), MaxItems: r.ItemsMaxCount},
		Suggestions: pipeline.Retention{MaxAge: r.SuggestionsMaxAge.Std(), MaxItems: r.SuggestionsMax},
		RunsMaxAge:  r.RunsMaxAge.Std(),
	}
}
