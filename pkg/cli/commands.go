package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/config"
	"github.com/nimburion/orchestra/pkg/health"
	"github.com/nimburion/orchestra/pkg/jobs"
	"github.com/nimburion/orchestra/pkg/observability/logger"
	"github.com/nimburion/orchestra/pkg/observability/metrics"
	"github.com/nimburion/orchestra/pkg/observability/tracing"
	"github.com/nimburion/orchestra/pkg/version"
)

func newVersionCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current()
			if output != OutputText {
				return writeValue(cmd.OutOrStdout(), output, info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product:    %s\n", info.Product)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	}
	addOutputFlag(cmd, &output, true)
	return cmd
}

func newConfigCommand(s *rootState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	var output string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := s.load(cmd)
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), output, cfg.Redacted())
		},
	}
	addOutputFlag(showCmd, &output, false)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := s.load(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	configCmd.AddCommand(showCmd, validateCmd)
	return configCmd
}

func newTopologyCommand(s *rootState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the engine cluster topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, log, err := s.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c, log)

			topology, err := c.GetTopology(cmd.Context())
			if err != nil {
				return fmt.Errorf("get topology: %w", err)
			}
			if topology == nil {
				return errors.New("get topology: empty response")
			}
			return writeValue(cmd.OutOrStdout(), output, topology)
		},
	}
	addOutputFlag(cmd, &output, false)
	return cmd
}

func newHealthCommand(s *rootState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check engine reachability and backpressure state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, log, err := s.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c, log)

			result := clientHealthRegistry(c).Check(cmd.Context())
			if err := writeValue(cmd.OutOrStdout(), output, result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return errors.New("engine is unhealthy")
			}
			return nil
		},
	}
	addOutputFlag(cmd, &output, false)
	return cmd
}

func clientHealthRegistry(c *client.Client) *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewEngineChecker(c))
	registry.Register(health.NewBackpressureChecker(c))
	return registry
}

func newWorkerCommand(s *rootState) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Job worker commands",
	}

	var (
		jobType        string
		fetchVariables []string
		tenantIDs      []string
		gracePeriod    time.Duration
		metricsAddr    string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Activate and handle jobs of one type until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, log, err := s.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c, log)

			ctx := cmd.Context()
			tp, err := tracing.NewTracerProvider(ctx, tracerConfig(cfg))
			if err != nil {
				return fmt.Errorf("create tracer provider: %w", err)
			}
			defer func() {
				if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
					log.Error("failed to shutdown tracer provider", "error", shutdownErr)
				}
			}()

			worker, err := jobs.NewClientWorker(c, jobs.JobWorkerConfig{
				JobType:        jobType,
				FetchVariables: fetchVariables,
				TenantIDs:      tenantIDs,
			}, s.opts.JobHandler(log))
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}

			if metricsAddr != "" {
				stopServer := startManagementServer(metricsAddr, c, worker, log)
				defer stopServer()
			}

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Jobs run under ctx so the interrupt only ends polling.
			if err := worker.Start(ctx); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
			log.Info("worker started", "job_type", jobType, "worker", worker.Config().WorkerName)

			<-runCtx.Done()
			result := worker.Stop(gracePeriod)
			if result.GracePeriodExceeded {
				log.Warn("worker stopped with jobs still running", "remaining_jobs", result.RemainingJobs)
			} else {
				log.Info("worker stopped")
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&jobType, "type", "", "job type to activate (required)")
	runCmd.Flags().StringSliceVar(&fetchVariables, "fetch-variable", nil, "variable to fetch on activation (repeatable)")
	runCmd.Flags().StringSliceVar(&tenantIDs, "tenant", nil, "tenant to activate jobs for (repeatable)")
	runCmd.Flags().DurationVar(&gracePeriod, "grace-period", jobs.DefaultGracePeriod, "time to wait for in-flight jobs on shutdown")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	_ = runCmd.MarkFlagRequired("type")

	workerCmd.AddCommand(runCmd)
	return workerCmd
}

func tracerConfig(cfg *config.Config) tracing.TracerConfig {
	return tracing.TracerConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Current().Version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Insecure:       cfg.Observability.TracingInsecure,
	}
}

// newManagementRouter exposes Prometheus metrics and the aggregated health
// of the client and worker.
func newManagementRouter(c *client.Client, worker *jobs.Worker) http.Handler {
	reg := metrics.NewRegistry()
	reg.MustRegister(jobs.Collectors()...)

	checks := clientHealthRegistry(c)
	checks.Register(jobs.NewWorkerHealthChecker("worker", worker, 0))

	router := mux.NewRouter()
	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		result := checks.Check(r.Context())
		status := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = writeValue(w, OutputJSON, result)
	}).Methods(http.MethodGet)
	return router
}

func startManagementServer(addr string, c *client.Client, worker *jobs.Worker, log logger.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newManagementRouter(c, worker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("management server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("management server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown management server", "error", err)
		}
	}
}
