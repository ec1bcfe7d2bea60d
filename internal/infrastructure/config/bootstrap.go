package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "ag3nt"

// WorkspaceDirName is the directory name used for workspace-level config.
// Place .ag3nt/ in a project root for project-specific overrides.
const WorkspaceDirName = "." + AppName

// HomeDir returns the runtime's configuration home: ~/.ag3nt
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.ag3nt directory exists with default content.
// Called once at startup. Safe to call multiple times — only creates
// missing items, never overwrites a file the operator has edited.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "goals"),
		filepath.Join(root, "snapshots"),
		filepath.Join(root, "artifacts"),
		filepath.Join(root, "workspace"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(root, "config.yaml"):         defaultConfig,
		filepath.Join(root, "goals", "example.yaml"): defaultExampleGoal,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("runtime home bootstrap complete", zap.String("home", root), zap.Int("files_created", created))
	} else {
		logger.Debug("runtime home OK", zap.String("home", root))
	}
	return nil
}

const defaultConfig = `# AG3NT runtime configuration.
# Auto-generated on first launch — feel free to edit.

http:
  host: 127.0.0.1
  port: 8277
  mode: release               # debug | release

database:
  type: sqlite                # sqlite | postgres
  dsn: ag3nt.db

log:
  level: info                 # debug | info | warn | error
  format: console              # console | json

pool:
  min_warm: 2
  max_size: 16
  max_idle_time: 10m
  max_age: 1h
  max_turns: 200
  warmup_threshold: 0.5

tool_cache:
  ttl: 300s
  max_count: 1000
  max_bytes: 52428800

sandbox:
  timeout: 30s
  memory_limit: 536870912
  enable_network: true

policy:
  approval_mode: ask_dangerous  # auto | ask_dangerous | ask_all
  approval_timeout: 5m
  audit_enabled: true
  protected_paths: []

snapshot:
  max_snapshots: 50

freshness:
  enabled: true

artifact:
  max_age_days: 30
  max_size_bytes: 10485760

compaction:
  max_tokens: 100000
  soft_ratio: 0.7
  preserve_n: 10

decision:
  min_samples_required: 3
  reject_threshold: 0.1
  escalate_after_failures: 3

goal:
  dir: ~/.ag3nt/goals

event_bus:
  max_retries: 3
  backoff_base: 1s
  dedup_window: 60s
  max_dlq_size: 1000
  drain_on_close: true
`

const defaultExampleGoal = `goals:
  - id: restart-nginx-on-5xx
    name: Restart nginx after sustained 5xx errors
    description: >-
      Restarts the nginx service when the HTTP health check goal reports
      sustained server errors, as long as the decision engine's confidence
      in this action stays above its configured threshold.
    trigger:
      event_type: http_check.failure
    action:
      tool: shell
      args:
        command: systemctl restart nginx
    risk_level: medium
    confidence_threshold: 0.7
    limits:
      cooldown_seconds: 300
      max_per_hour: 3
      max_per_day: 10
    enabled: false
`
