package app

import (
	"strings"

	"crew/internal/config"
	"crew/internal/handlers"
	"crew/internal/observability/admin"
	"crew/internal/orchestrator"
	"crew/internal/snapshot"
	logx "crew/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapOrchestratorConfig(o config.OrchestratorSettings, s config.SnapshotSettings) orchestrator.Config {
	return orchestrator.Config{
		PollInterval:     o.PollInterval,
		RequeueDelay:     o.RequeueDelay,
		MaxRetries:       o.MaxRetries,
		HandlerTimeout:   o.HandlerTimeout,
		RetryBase:        o.RetryBase,
		RetryMaxDelay:    o.RetryMaxDelay,
		RetryJitter:      o.RetryJitter,
		SnapshotInterval: s.MinInterval,
	}
}

// mapSnapshotConfig resolves a relative snapshot path against baseDir so the
// daemon and `crewd status` agree on the file regardless of cwd.
func mapSnapshotConfig(s config.SnapshotSettings, baseDir string) snapshot.Config {
	path := s.Path
	if path != "" {
		path = config.ResolvePath(baseDir, path)
	}
	return snapshot.Config{
		Driver:        s.Driver,
		Path:          path,
		BusyTimeout:   s.BusyTimeout,
		HistoryLimit:  s.HistoryLimit,
		RedisAddr:     s.RedisAddr,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		RedisKey:      s.RedisKey,
	}
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Enabled:       cfg.Admin.Enabled,
		Addr:          cfg.Admin.ListenAddr(),
		Token:         strings.TrimSpace(cfg.Admin.Token),
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
	}
}

func mapHandlerSpecs(cfg *config.Config) ([]handlers.Spec, error) {
	out := make([]handlers.Spec, 0, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		timeout, err := config.ParseDurationField("handlers.timeout", h.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, handlers.Spec{
			Category: strings.TrimSpace(h.Category),
			Kind:     h.Kind,
			Command:  h.Command,
			Timeout:  timeout,
		})
	}
	return out, nil
}

// OpenSnapshot opens the store described by cfg. It returns (nil, nil) when
// persistence is disabled.
func OpenSnapshot(cfg *config.Config, baseDir string, log logx.Logger) (snapshot.Store, error) {
	s, err := cfg.Snapshot.Settings()
	if err != nil {
		return nil, err
	}
	return snapshot.Open(mapSnapshotConfig(s, baseDir), log)
}
