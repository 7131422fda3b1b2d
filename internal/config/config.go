// Package config defines the typed configuration object referenced by
// spec §6: enumerated fields for watch debounce, embedding batch size and
// concurrency, max file size, pipeline worker count, and daemon idle
// timeout. File discovery and CLI argument parsing are out of scope; a
// Config is always constructed programmatically, optionally seeded from a
// YAML document via Load.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EmbeddingGrain selects the unit of work for enrichment. spec §9 leaves
// the grain configurable and defaults to "block" (per leaf block).
type EmbeddingGrain string

const (
	GrainBlock   EmbeddingGrain = "block"
	GrainSection EmbeddingGrain = "section"
)

// Config is the single source of tunables shared by every component.
type Config struct {
	// Watch (C9)
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// Parser / hashing (C1, C2)
	MaxFileSize int64 `yaml:"max_file_size"`

	// Enrichment pipeline (C7)
	WorkerCount          int            `yaml:"worker_count"`
	EmbeddingBatchSize    int            `yaml:"embedding_batch_size"`
	EmbeddingConcurrency  int            `yaml:"embedding_concurrency"`
	EmbeddingGrain        EmbeddingGrain `yaml:"embedding_grain"`
	EmbeddingMaxRetries   int            `yaml:"embedding_max_retries"`
	EmbeddingRetryBaseMS  int            `yaml:"embedding_retry_base_ms"`

	// Event bus (C8)
	EventQueueCapacity int           `yaml:"event_queue_capacity"`
	ShutdownDrainDeadline time.Duration `yaml:"shutdown_drain_deadline"`

	// Daemon (C10)
	DaemonSocketPath   string        `yaml:"daemon_socket_path"`
	DaemonIdleTimeout  time.Duration `yaml:"daemon_idle_timeout"`
	DaemonRequestTimeout time.Duration `yaml:"daemon_request_timeout"`

	// Session log (C13)
	SessionsDir            string `yaml:"sessions_dir"`
	SessionTruncationBytes int    `yaml:"session_truncation_bytes"`

	// Scripting (C11)
	ScriptDir string `yaml:"script_dir"`

	// Discovery (supplement)
	PromotionThreshold int `yaml:"promotion_threshold"`
}

// Default returns the module's baseline configuration.
func Default() Config {
	return Config{
		WatchDebounce:          300 * time.Millisecond,
		MaxFileSize:            10 * 1024 * 1024,
		WorkerCount:            4,
		EmbeddingBatchSize:     16,
		EmbeddingConcurrency:   4,
		EmbeddingGrain:         GrainBlock,
		EmbeddingMaxRetries:    3,
		EmbeddingRetryBaseMS:   200,
		EventQueueCapacity:     256,
		ShutdownDrainDeadline:  5 * time.Second,
		DaemonSocketPath:       defaultSocketPath(),
		DaemonIdleTimeout:      10 * time.Minute,
		DaemonRequestTimeout:   30 * time.Second,
		SessionsDir:            ".kiln/sessions",
		SessionTruncationBytes: 32 * 1024,
		ScriptDir:              ".kiln/handlers",
		PromotionThreshold:     3,
	}
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/kiln.sock"
	}
	return os.TempDir() + "/kiln.sock"
}

// Load reads a YAML document and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
