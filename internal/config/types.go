package config

import (
	"crew/internal/worker"
)

// Config is the on-disk daemon configuration (JSON or YAML).
//
// All durations are Go duration strings ("250ms", "10s", "1m"). Cron specs
// use robfig/cron syntax, including descriptors such as "@every 30s".
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Snapshot     SnapshotConfig     `json:"snapshot"`

	// StatusLog is a cron spec for the periodic status log line. Empty
	// disables it.
	StatusLog string `json:"status_log,omitempty"`

	// Workers is the inline category table. WorkersFile, when set, is loaded
	// and appended after it.
	Workers     []worker.Def `json:"workers,omitempty"`
	WorkersFile string       `json:"workers_file,omitempty"`

	Admin    AdminConfig     `json:"admin,omitempty"`
	Handlers []HandlerConfig `json:"handlers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OrchestratorConfig controls the execution loops.
//
// Defaults (when fields are omitted/zero):
//   - pool_size: 4
//   - poll_interval: 200ms
//   - requeue_delay: 100ms
//   - max_retries: 3
//   - handler_timeout: 0s (disabled)
//   - retry_base: 0s (retries re-enqueue immediately)
//   - retry_max_delay: 15s
//   - stop_timeout: 10s
type OrchestratorConfig struct {
	PoolSize       *int    `json:"pool_size,omitempty"` // pointer so an explicit 0 is kept
	PollInterval   string  `json:"poll_interval,omitempty"`
	RequeueDelay   string  `json:"requeue_delay,omitempty"`
	MaxRetries     int     `json:"max_retries,omitempty"`
	HandlerTimeout string  `json:"handler_timeout,omitempty"`
	RetryBase      string  `json:"retry_base,omitempty"`
	RetryMaxDelay  string  `json:"retry_max_delay,omitempty"`
	RetryJitter    float64 `json:"retry_jitter,omitempty"`
	StopTimeout    string  `json:"stop_timeout,omitempty"`
}

// SnapshotConfig controls the persisted status snapshot.
//
// Example:
//
//	"snapshot": { "driver": "file", "path": "./crew-status.json" }
type SnapshotConfig struct {
	Driver      string `json:"driver"` // file | sqlite | redis | none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	// HistoryLimit bounds the sqlite history table: 0 means 1000 rows, a
	// negative value disables history.
	HistoryLimit int `json:"history_limit,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"` // do not log
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisKey      string `json:"redis_key,omitempty"`

	MinInterval string `json:"min_interval,omitempty"` // debounce between writes
	Refresh     string `json:"refresh,omitempty"`      // cron spec for periodic rewrites
}

// AdminConfig controls the optional admin HTTP server.
//
// Security note: prefer a loopback address. A non-loopback address requires
// a token unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7070"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// HandlerConfig binds a stock handler to a category.
type HandlerConfig struct {
	Category string   `json:"category"`
	Kind     string   `json:"kind"`              // log | exec
	Command  []string `json:"command,omitempty"` // exec: argv prefix; the payload is appended
	Timeout  string   `json:"timeout,omitempty"` // exec only
}

// Default returns a config that runs with no file at all.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Snapshot: SnapshotConfig{Driver: "file", Path: "./crew-status.json"},
	}
}
