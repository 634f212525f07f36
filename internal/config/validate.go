package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"crew/internal/worker"

	"github.com/robfig/cron/v3"
)

var handlerKinds = map[string]bool{"log": true, "exec": true}

// Validate checks everything that can be checked without touching the
// outside world. baseDir resolves a relative workers_file.
func Validate(cfg *Config, baseDir string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Orchestrator.Settings(); err != nil {
		errs = append(errs, err)
	}
	snap, err := cfg.Snapshot.Settings()
	if err != nil {
		errs = append(errs, err)
	}
	if snap.Refresh != "" {
		if _, err := cron.ParseStandard(snap.Refresh); err != nil {
			errs = append(errs, fmt.Errorf("snapshot.refresh: %w", err))
		}
	}
	if s := strings.TrimSpace(cfg.StatusLog); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("status_log: %w", err))
		}
	}

	defs, err := cfg.WorkerDefs(baseDir)
	if err != nil {
		errs = append(errs, err)
	} else if _, err := worker.NewRegistry(defs); err != nil {
		errs = append(errs, fmt.Errorf("workers: %w", err))
	}

	seen := map[string]bool{}
	for i, h := range cfg.Handlers {
		cat := strings.TrimSpace(h.Category)
		kind := strings.ToLower(strings.TrimSpace(h.Kind))
		switch {
		case cat == "":
			errs = append(errs, fmt.Errorf("handlers[%d].category: required", i))
		case seen[cat]:
			errs = append(errs, fmt.Errorf("handlers[%d].category: duplicate %q", i, cat))
		}
		seen[cat] = true
		if !handlerKinds[kind] {
			errs = append(errs, fmt.Errorf("handlers[%d].kind: unknown kind %q", i, h.Kind))
		}
		if kind == "exec" && len(h.Command) == 0 {
			errs = append(errs, fmt.Errorf("handlers[%d].command: required for exec", i))
		}
		if _, err := ParseDurationField(fmt.Sprintf("handlers[%d].timeout", i), h.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Admin.Enabled {
		addr := cfg.Admin.ListenAddr()
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.Admin.Token) == "" && !cfg.Admin.AllowInsecure {
			errs = append(errs, fmt.Errorf("admin.addr: %q is not loopback; set admin.token or admin.allow_insecure", addr))
		}
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port listen address only accepts
// local connections. An empty host binds every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
