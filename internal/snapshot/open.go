package snapshot

import (
	"errors"
	"strings"

	logx "crew/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := DriverName(cfg.Driver)
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown snapshot driver: " + driver)
	}
}

// DriverName normalizes a configured driver string.
func DriverName(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "sqlite3" {
		d = "sqlite"
	}
	return d
}
