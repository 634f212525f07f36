package handlers

import (
	"fmt"
	"strings"
	"time"

	"crew/internal/orchestrator"
	logx "crew/pkg/logx"
)

// Spec describes one configured handler binding.
type Spec struct {
	Category string
	Kind     string
	Command  []string
	Timeout  time.Duration
}

// Build constructs the handler for spec.
func Build(spec Spec, log logx.Logger) (orchestrator.Handler, error) {
	log = log.With(logx.String("comp", "handler"), logx.String("category", spec.Category))
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "log":
		return NewLog(log), nil
	case "exec":
		return NewExec(spec.Command, log, WithTimeout(spec.Timeout))
	default:
		return nil, fmt.Errorf("handler %q: unknown kind %q", spec.Category, spec.Kind)
	}
}

// Register builds every spec and binds it on o.
func Register(o *orchestrator.Orchestrator, specs []Spec, log logx.Logger) error {
	for _, s := range specs {
		h, err := Build(s, log)
		if err != nil {
			return err
		}
		o.RegisterHandler(s.Category, h)
	}
	return nil
}
