package config

import (
	"reflect"
	"strings"

	logx "crew/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// Fields are safe structured attrs for logging; secrets are reduced to
	// "is set" flags.
	Fields []logx.Field
	// RestartRequired lists changed sections that only take effect after a
	// restart of the daemon.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Orchestrator, newCfg.Orchestrator) {
		ch.Sections = append(ch.Sections, "orchestrator")
		ch.RestartRequired = append(ch.RestartRequired, "orchestrator")
		if s, err := newCfg.Orchestrator.Settings(); err == nil {
			ch.Fields = append(ch.Fields,
				logx.Int("orchestrator.pool_size", s.PoolSize),
				logx.Duration("orchestrator.poll_interval", s.PollInterval),
				logx.Int("orchestrator.max_retries", s.MaxRetries),
			)
		}
	}

	o, n := oldCfg.Snapshot, newCfg.Snapshot
	if !reflect.DeepEqual(o, n) {
		ch.Sections = append(ch.Sections, "snapshot")
		// Only the debounce and refresh schedule are applied live.
		o.MinInterval, n.MinInterval = "", ""
		o.Refresh, n.Refresh = "", ""
		if !reflect.DeepEqual(o, n) {
			ch.RestartRequired = append(ch.RestartRequired, "snapshot")
		}
		ch.Fields = append(ch.Fields,
			logx.String("snapshot.driver", newCfg.Snapshot.Driver),
			logx.String("snapshot.min_interval", strings.TrimSpace(newCfg.Snapshot.MinInterval)),
			logx.String("snapshot.refresh", strings.TrimSpace(newCfg.Snapshot.Refresh)),
			logx.Bool("snapshot.redis_password_set", newCfg.Snapshot.RedisPassword != ""),
		)
	}

	if strings.TrimSpace(oldCfg.StatusLog) != strings.TrimSpace(newCfg.StatusLog) {
		ch.Sections = append(ch.Sections, "status_log")
		ch.Fields = append(ch.Fields, logx.String("status_log", strings.TrimSpace(newCfg.StatusLog)))
	}

	if !reflect.DeepEqual(oldCfg.Workers, newCfg.Workers) || oldCfg.WorkersFile != newCfg.WorkersFile {
		ch.Sections = append(ch.Sections, "workers")
		ch.RestartRequired = append(ch.RestartRequired, "workers")
		ch.Fields = append(ch.Fields, logx.Int("workers.rows", len(newCfg.Workers)))
	}

	if !reflect.DeepEqual(oldCfg.Handlers, newCfg.Handlers) {
		ch.Sections = append(ch.Sections, "handlers")
		ch.Fields = append(ch.Fields, logx.Int("handlers.count", len(newCfg.Handlers)))
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		ch.Sections = append(ch.Sections, "admin")
		ch.Fields = append(ch.Fields,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.ListenAddr()),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}
	return ch
}
