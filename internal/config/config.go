// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package config loads spec.md §6's environment table into the typed
// config structs each package actually wants (watcher.Config,
// embeddings.Config, vectorstore.Options, search.Engine's decay knobs),
// the same load-then-populate shape cmd/hive-server/main.go uses for its
// own .env + os.Getenv bootstrap, generalized with viper so defaults,
// non-positive-value fallbacks, and env-var names live in one place instead of scattered
// os.Getenv calls.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/vectorstore"
	"github.com/northbound/reflect-index/internal/watcher"
)

// SearchConfig carries reflect_on_past's decay policy (spec.md §4.L/§6).
type SearchConfig struct {
	EnableDecay    bool
	UseNativeDecay bool
	DecayWeight    float64
	DecayScaleDays float64
}

// Config is every tunable named in spec.md §6, already split into the
// sub-structs the packages that consume them expect.
type Config struct {
	QdrantURL           string
	StateFile           string
	LogsDir             string
	PreferLocalEmbeddings bool
	VoyageAPIKey        string
	EmbeddingModel      string

	Watcher     watcher.Config
	Embeddings  embeddings.Config
	VectorStore vectorstore.Options
	Search      SearchConfig
}

// Load reads a .env file (if present, ignored if absent) then populates a
// Config from the environment, applying spec.md §6's documented defaults
// to anything unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file found, using environment variables: %v", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	wcfg := watcher.DefaultConfig()
	wcfg.LogsDir = v.GetString("logs_dir")
	wcfg.ImportFrequency = time.Duration(v.GetInt("import_frequency")) * time.Second
	wcfg.HotCheckInterval = time.Duration(v.GetInt("hot_check_interval_s")) * time.Second
	wcfg.BatchSize = positiveOr(v.GetInt("batch_size"), wcfg.BatchSize)
	wcfg.MaxColdFiles = positiveOr(v.GetInt("max_cold_files"), wcfg.MaxColdFiles)
	wcfg.MaxQueueSize = positiveOr(v.GetInt("max_queue_size"), wcfg.MaxQueueSize)
	wcfg.MaxBacklogHours = positiveOr(v.GetInt("max_backlog_hours"), wcfg.MaxBacklogHours)
	wcfg.MemoryWarningMB = positiveOrF(v.GetFloat64("memory_warning_mb"), wcfg.MemoryWarningMB)
	wcfg.MemoryLimitMB = positiveOrF(v.GetFloat64("memory_limit_mb"), wcfg.MemoryLimitMB)
	wcfg.MaxCPUPercentPerCore = positiveOrF(v.GetFloat64("max_cpu_percent_per_core"), wcfg.MaxCPUPercentPerCore)
	wcfg.Freshness.HotWindow = time.Duration(v.GetInt("hot_window_minutes")) * time.Minute
	if v.GetInt("hot_window_minutes") == 0 {
		wcfg.Freshness.HotWindow = watcher.DefaultConfig().Freshness.HotWindow
	}
	wcfg.Freshness.WarmWindow = time.Duration(v.GetInt("warm_window_hours")) * time.Hour
	if v.GetInt("warm_window_hours") == 0 {
		wcfg.Freshness.WarmWindow = watcher.DefaultConfig().Freshness.WarmWindow
	}
	wcfg.Freshness.MaxWarmWait = time.Duration(v.GetInt("max_warm_wait_minutes")) * time.Minute
	if v.GetInt("max_warm_wait_minutes") == 0 {
		wcfg.Freshness.MaxWarmWait = watcher.DefaultConfig().Freshness.MaxWarmWait
	}

	preferLocal := v.GetBool("prefer_local_embeddings")
	voyageKey := firstNonEmpty(v.GetString("voyage_api_key"), v.GetString("voyage_key"))

	ecfg := embeddings.Config{
		Model:               v.GetString("embedding_model"),
		LocalConcurrency:    positiveOr(v.GetInt("max_concurrent_embeddings"), 2),
		VoyageAPIKey:        voyageKey,
		VoyageDocumentModel: "voyage-3",
		VoyageQueryModel:    "voyage-3-lite",
	}

	vcfg := vectorstore.Options{
		Concurrency: positiveOr(v.GetInt("max_concurrent_qdrant"), 3),
		Timeout:     time.Duration(v.GetInt("qdrant_timeout")) * time.Second,
		MaxRetries:  v.GetInt("max_retries"),
		RetryDelay:  time.Duration(v.GetInt("retry_delay")) * time.Millisecond,
	}

	scfg := SearchConfig{
		EnableDecay:    v.GetBool("enable_memory_decay"),
		UseNativeDecay: v.GetBool("use_native_decay"),
		DecayWeight:    v.GetFloat64("decay_weight"),
		DecayScaleDays: v.GetFloat64("decay_scale_days"),
	}

	stateFile := v.GetString("state_file")
	if stateFile == "" {
		stateFile = defaultStateFilePath()
	}

	return Config{
		QdrantURL:             v.GetString("qdrant_url"),
		StateFile:             stateFile,
		LogsDir:               wcfg.LogsDir,
		PreferLocalEmbeddings: preferLocal,
		VoyageAPIKey:          voyageKey,
		EmbeddingModel:        ecfg.Model,
		Watcher:               wcfg,
		Embeddings:            ecfg,
		VectorStore:           vcfg,
		Search:                scfg,
	}, nil
}

// EmbedderKind resolves PREFER_LOCAL_EMBEDDINGS / VOYAGE_API_KEY into the
// backend NewEmbedder should construct, per spec.md §4.E: local unless a
// Voyage key is configured and local is not explicitly preferred.
func (c Config) EmbedderKind() embeddings.Kind {
	if c.VoyageAPIKey != "" && !c.PreferLocalEmbeddings {
		return embeddings.KindVoyage
	}
	return embeddings.KindLocal
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qdrant_url", "http://localhost:6333")
	v.SetDefault("prefer_local_embeddings", true)
	v.SetDefault("embedding_model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("logs_dir", "~/.claude/projects")
	v.SetDefault("state_file", "")
	v.SetDefault("import_frequency", 60)
	v.SetDefault("hot_check_interval_s", 2)
	v.SetDefault("batch_size", 10)
	v.SetDefault("memory_limit_mb", 2000)
	v.SetDefault("memory_warning_mb", 1500)
	v.SetDefault("max_cpu_percent_per_core", 80)
	v.SetDefault("max_concurrent_embeddings", 2)
	v.SetDefault("max_concurrent_qdrant", 3)
	v.SetDefault("max_queue_size", 100)
	v.SetDefault("max_backlog_hours", 4)
	v.SetDefault("hot_window_minutes", 5)
	v.SetDefault("warm_window_hours", 72)
	v.SetDefault("max_cold_files", 5)
	v.SetDefault("max_warm_wait_minutes", 30)
	v.SetDefault("qdrant_timeout", 10)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", 200)
	v.SetDefault("enable_memory_decay", false)
	v.SetDefault("use_native_decay", false)
	v.SetDefault("decay_weight", 0.3)
	v.SetDefault("decay_scale_days", 30.0)
}

// defaultStateFilePath returns spec.md §6's documented primary state
// filename ("csr-watcher.json"), rooted under the user's home directory
// so it survives across working directories, mirroring cmd/hive-server's
// own home-relative ".the-hive" convention for unconfigured paths.
func defaultStateFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "csr-watcher.json"
	}
	dir := filepath.Join(home, ".reflect-index")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("config: failed to create %s, falling back to cwd: %v", dir, err)
		return "csr-watcher.json"
	}
	return filepath.Join(dir, "csr-watcher.json")
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func positiveOrF(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
