package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root runtime configuration, loaded in layers: built-in
// defaults, then ~/.ag3nt/config.yaml, then ./config/config.yaml or
// ./config.yaml, then AG3NT_* environment variables — each layer
// overriding the one before it.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Freshness  FreshnessConfig  `mapstructure:"freshness"`
	Artifact   ArtifactConfig   `mapstructure:"artifact"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Decision   DecisionConfig   `mapstructure:"decision"`
	Goal       GoalConfig       `mapstructure:"goal"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	ToolCache  ToolCacheConfig  `mapstructure:"tool_cache"`
}

// HTTPConfig configures both the read-only status API and the live
// WebSocket event stream, which share one listener.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug | release
}

// DatabaseConfig configures the durable store backing action history,
// dead-letter entries, and goal rate-limit counters.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite | postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures zap's output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

// PoolConfig configures the warm agent pool, mirroring pool.Config.
type PoolConfig struct {
	MinWarm         int           `mapstructure:"min_warm"`
	MaxSize         int           `mapstructure:"max_size"`
	MaxIdleTime     time.Duration `mapstructure:"max_idle_time"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	MaxTurns        int           `mapstructure:"max_turns"`
	WarmupThreshold float64       `mapstructure:"warmup_threshold"`
}

// ToolCacheConfig configures the tool result cache, mirroring toolcache.New's
// parameters.
type ToolCacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	MaxCount int           `mapstructure:"max_count"`
	MaxBytes int           `mapstructure:"max_bytes"`
}

// SandboxConfig configures the shell/exec execution sandbox, mirroring
// sandbox.Config.
type SandboxConfig struct {
	WorkDir       string   `mapstructure:"work_dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
	AllowedBins   []string `mapstructure:"allowed_bins"`
	MemoryLimit   int64    `mapstructure:"memory_limit"`
	EnableNetwork bool     `mapstructure:"enable_network"`
	TempDir       string   `mapstructure:"temp_dir"`
	PythonEnv     string   `mapstructure:"python_env"`
}

// PolicyConfig configures tool path protection, exec approval, and the
// security audit log.
type PolicyConfig struct {
	ProtectedPaths  []string      `mapstructure:"protected_paths"`
	ApprovalMode    string        `mapstructure:"approval_mode"` // auto | ask_dangerous | ask_all
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	AuditLogPath    string        `mapstructure:"audit_log_path"`
	AuditEnabled    bool          `mapstructure:"audit_enabled"`
}

// SnapshotConfig configures the workspace snapshot engine.
type SnapshotConfig struct {
	SnapshotsRoot   string `mapstructure:"snapshots_root"`
	MaxSnapshots    int    `mapstructure:"max_snapshots"`
}

// FreshnessConfig configures the file-freshness tracker and its watcher.
type FreshnessConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ArtifactConfig configures the artifact store.
type ArtifactConfig struct {
	Dir          string `mapstructure:"dir"`
	MaxAgeDays   int    `mapstructure:"max_age_days"`
	MaxSizeBytes int    `mapstructure:"max_size_bytes"`
}

// CompactionConfig seeds the compaction.Budget applied to each turn.
type CompactionConfig struct {
	MaxTokens int     `mapstructure:"max_tokens"`
	SoftRatio float64 `mapstructure:"soft_ratio"`
	PreserveN int     `mapstructure:"preserve_n"`
}

// DecisionConfig configures the decision engine's confidence thresholds,
// mirroring decision.Config.
type DecisionConfig struct {
	MinSamplesRequired    int     `mapstructure:"min_samples_required"`
	RejectThreshold       float64 `mapstructure:"reject_threshold"`
	EscalateAfterFailures int     `mapstructure:"escalate_after_failures"`
}

// GoalConfig configures where declarative goal documents are loaded from.
type GoalConfig struct {
	Dir string `mapstructure:"dir"`
}

// EventBusConfig configures the priority event bus. When WALDir is set,
// published events are additionally journaled to a write-ahead log so they
// can be replayed after a crash; see eventbus.NewPersistentBus.
type EventBusConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	DedupWindow  time.Duration `mapstructure:"dedup_window"`
	MaxDLQSize   int           `mapstructure:"max_dlq_size"`
	DrainOnClose bool          `mapstructure:"drain_on_close"`
	WALDir       string        `mapstructure:"wal_dir"`
	MaxWALSize   int64         `mapstructure:"max_wal_size"`
}

// Load reads configuration in layers: built-in defaults, then the global
// ~/.ag3nt/config.yaml, then a project-local ./config/config.yaml or
// ./config.yaml (whichever is found first), then AG3NT_* environment
// variables — each layer overriding the one before it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
		break
	}

	v.SetEnvPrefix("AG3NT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8277)
	v.SetDefault("http.mode", "release")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "ag3nt.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("pool.min_warm", 2)
	v.SetDefault("pool.max_size", 16)
	v.SetDefault("pool.max_idle_time", "10m")
	v.SetDefault("pool.max_age", "1h")
	v.SetDefault("pool.max_turns", 200)
	v.SetDefault("pool.warmup_threshold", 0.5)

	v.SetDefault("tool_cache.ttl", "300s")
	v.SetDefault("tool_cache.max_count", 1000)
	v.SetDefault("tool_cache.max_bytes", 50<<20)

	v.SetDefault("sandbox.timeout", "30s")
	v.SetDefault("sandbox.memory_limit", 512<<20)
	v.SetDefault("sandbox.enable_network", true)

	v.SetDefault("policy.approval_mode", "ask_dangerous")
	v.SetDefault("policy.approval_timeout", "5m")
	v.SetDefault("policy.audit_enabled", true)

	v.SetDefault("snapshot.max_snapshots", 50)

	v.SetDefault("freshness.enabled", true)

	v.SetDefault("artifact.max_age_days", 30)
	v.SetDefault("artifact.max_size_bytes", 10<<20)

	v.SetDefault("compaction.max_tokens", 100000)
	v.SetDefault("compaction.soft_ratio", 0.7)
	v.SetDefault("compaction.preserve_n", 10)

	v.SetDefault("decision.min_samples_required", 3)
	v.SetDefault("decision.reject_threshold", 0.1)
	v.SetDefault("decision.escalate_after_failures", 3)

	v.SetDefault("event_bus.max_retries", 3)
	v.SetDefault("event_bus.backoff_base", "1s")
	v.SetDefault("event_bus.dedup_window", "60s")
	v.SetDefault("event_bus.max_dlq_size", 1000)
	v.SetDefault("event_bus.drain_on_close", true)
	v.SetDefault("event_bus.wal_dir", "")
	v.SetDefault("event_bus.max_wal_size", 10<<20)
}
