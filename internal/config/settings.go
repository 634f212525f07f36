package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crew/internal/worker"
)

const (
	DefaultPoolSize         = 4
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultRequeueDelay     = 100 * time.Millisecond
	DefaultRetryMaxDelay    = 15 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultSnapshotInterval = 250 * time.Millisecond
	DefaultAdminAddr        = "127.0.0.1:7070"
)

// OrchestratorSettings is OrchestratorConfig with defaults applied and
// durations parsed.
type OrchestratorSettings struct {
	PoolSize       int
	PollInterval   time.Duration
	RequeueDelay   time.Duration
	MaxRetries     int
	HandlerTimeout time.Duration
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64
	StopTimeout    time.Duration
}

func (c OrchestratorConfig) Settings() (OrchestratorSettings, error) {
	var (
		s    OrchestratorSettings
		errs []error
		err  error
	)
	s.PoolSize = DefaultPoolSize
	if c.PoolSize != nil {
		s.PoolSize = *c.PoolSize
	}
	if s.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.pool_size: must be >= 0"))
	}
	s.MaxRetries = c.MaxRetries
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_retries: must be >= 0"))
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.retry_jitter: must be within [0,1]"))
	}
	s.RetryJitter = c.RetryJitter

	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		if *dst, err = ParseDurationOrDefault(path, raw, def); err != nil {
			errs = append(errs, err)
		}
	}
	parse(&s.PollInterval, "orchestrator.poll_interval", c.PollInterval, DefaultPollInterval)
	parse(&s.RequeueDelay, "orchestrator.requeue_delay", c.RequeueDelay, DefaultRequeueDelay)
	parse(&s.HandlerTimeout, "orchestrator.handler_timeout", c.HandlerTimeout, 0)
	parse(&s.RetryBase, "orchestrator.retry_base", c.RetryBase, 0)
	parse(&s.RetryMaxDelay, "orchestrator.retry_max_delay", c.RetryMaxDelay, DefaultRetryMaxDelay)
	parse(&s.StopTimeout, "orchestrator.stop_timeout", c.StopTimeout, DefaultStopTimeout)
	return s, errors.Join(errs...)
}

// SnapshotSettings is SnapshotConfig with durations parsed.
type SnapshotSettings struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration
	HistoryLimit int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	MinInterval time.Duration
	Refresh     string
}

var snapshotDrivers = map[string]bool{"": true, "none": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true}

func (c SnapshotConfig) Settings() (SnapshotSettings, error) {
	s := SnapshotSettings{
		Driver:        strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:          strings.TrimSpace(c.Path),
		HistoryLimit:  c.HistoryLimit,
		RedisAddr:     strings.TrimSpace(c.RedisAddr),
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisKey:      strings.TrimSpace(c.RedisKey),
		Refresh:       strings.TrimSpace(c.Refresh),
	}
	var errs []error
	if !snapshotDrivers[s.Driver] {
		errs = append(errs, fmt.Errorf("snapshot.driver: unknown driver %q", c.Driver))
	}
	switch s.Driver {
	case "file", "sqlite", "sqlite3":
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("snapshot.path: required for driver %q", s.Driver))
		}
	case "redis":
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("snapshot.redis_addr: required for driver \"redis\""))
		}
	}
	var err error
	if s.BusyTimeout, err = ParseDurationField("snapshot.busy_timeout", c.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if s.MinInterval, err = ParseDurationOrDefault("snapshot.min_interval", c.MinInterval, DefaultSnapshotInterval); err != nil {
		errs = append(errs, err)
	}
	return s, errors.Join(errs...)
}

// WorkerDefs returns the inline table followed by the rows of WorkersFile.
// A relative WorkersFile is resolved against baseDir.
func (c *Config) WorkerDefs(baseDir string) ([]worker.Def, error) {
	defs := append([]worker.Def(nil), c.Workers...)
	path := strings.TrimSpace(c.WorkersFile)
	if path == "" {
		return defs, nil
	}
	path = ResolvePath(baseDir, path)
	more, err := worker.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("workers_file: %w", err)
	}
	return append(defs, more...), nil
}

// ListenAddr returns the configured listen address or the default.
func (c AdminConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAdminAddr
}
