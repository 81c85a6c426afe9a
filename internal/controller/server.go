package controller

import (
	"context"
	"screener/internal/model"
	"sort"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

type ServerController interface {
	Health(ctx context.Context) (model.HealthReport, bool)
	Online() string
}

type serverController struct {
	checks map[string]HealthCheck
}

// NewServer builds the controller from named dependency checks. Only
// configured dependencies should be passed in.
func NewServer(checks map[string]HealthCheck) ServerController {
	return &serverController{checks: checks}
}

func (sc *serverController) Online() string {
	return "Online"
}

// Health runs every check and reports healthy only when all of them pass
func (sc *serverController) Health(ctx context.Context) (model.HealthReport, bool) {
	report := model.HealthReport{Status: "healthy", Components: make(map[string]string, len(sc.checks))}

	names := make([]string, 0, len(sc.checks))
	for name := range sc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := sc.checks[name](checkCtx)
		cancel()

		if err != nil {
			report.Components[name] = err.Error()
			healthy = false
			continue
		}
		report.Components[name] = "ok"
	}

	if !healthy {
		report.Status = "unhealthy"
	}
	return report, healthy
}
