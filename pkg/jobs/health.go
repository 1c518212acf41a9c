package jobs

import (
	"strings"
	"time"

	"github.com/nimburion/orchestra/pkg/health"
)

const defaultWorkerHealthCheckName = "jobs-worker"

// NewWorkerHealthChecker reports a worker healthy while its poll loop runs.
func NewWorkerHealthChecker(name string, worker *Worker, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultWorkerHealthCheckName + ":" + worker.config.JobType
	}
	return health.NewAdapterChecker(checkName, worker, timeout)
}
