// Package cli builds the orchestra command line: engine inspection, a demo
// job worker and configuration tooling on top of pkg/client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/config"
	"github.com/nimburion/orchestra/pkg/jobs"
	"github.com/nimburion/orchestra/pkg/observability/logger"
)

// Output formats accepted by --output.
const (
	OutputYAML = "yaml"
	OutputJSON = "json"
	OutputText = "text"
)

// HandlerFactory builds the handler run by "worker run".
type HandlerFactory func(log logger.Logger) jobs.Handler

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	// ConfigPath is the default for --config-file.
	ConfigPath string
	EnvPrefix  string

	// JobHandler overrides the "worker run" handler. The default logs each
	// job and completes it without variables.
	JobHandler HandlerFactory

	// ClientOptions are appended to the options every command passes to client.New.
	ClientOptions []client.Option

	// LogOutput receives log entries. Defaults to stderr so command output
	// on stdout stays parseable.
	LogOutput io.Writer
}

type rootState struct {
	opts    Options
	cfgPath string
}

// NewRootCommand creates the orchestra CLI with topology, health, worker,
// config and version subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "orchestra"
	}
	if opts.Description == "" {
		opts.Description = "Client runtime for the process orchestration REST API"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.JobHandler == nil {
		opts.JobHandler = LogAndCompleteHandler
	}

	state := &rootState{opts: opts}
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&state.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newVersionCommand(),
		newConfigCommand(state),
		newTopologyCommand(state),
		newHealthCommand(state),
		newWorkerCommand(state),
	)
	return rootCmd
}

// Execute runs the command and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// LoadConfigAndLogger loads configuration with precedence
// flags > env > file > defaults and builds the zap logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix string, flags *pflag.FlagSet, logOutput io.Writer) (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if logOutput == nil {
		logOutput = os.Stderr
	}
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: zapcore.Lock(zapcore.AddSync(logOutput)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func (s *rootState) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(s.cfgPath, s.opts.EnvPrefix, cmd.Flags(), s.opts.LogOutput)
}

func (s *rootState) newClient(cmd *cobra.Command) (*client.Client, *config.Config, logger.Logger, error) {
	cfg, log, err := s.load(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	opts := append([]client.Option{client.WithLogger(log)}, s.opts.ClientOptions...)
	c, err := client.New(cfg, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}
	return c, cfg, log, nil
}

func closeClient(c *client.Client, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close client", "error", err)
	}
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", cfg.String())
}

// LogAndCompleteHandler logs each job and completes it without variables.
func LogAndCompleteHandler(log logger.Logger) jobs.Handler {
	return func(ctx context.Context, job *jobs.ActivatedJob) (map[string]any, error) {
		log.WithContext(ctx).Info("job received",
			"job_key", job.JobKey,
			"job_type", job.Type,
			"process_instance_key", job.ProcessInstanceKey,
			"retries", job.Retries,
			"variables", len(job.Variables),
		)
		return nil, nil
	}
}

func addOutputFlag(cmd *cobra.Command, target *string, allowText bool) {
	usage := "output format: yaml or json"
	def := OutputYAML
	if allowText {
		usage = "output format: text, yaml or json"
		def = OutputText
	}
	cmd.Flags().StringVarP(target, "output", "o", def, usage)
}

func writeValue(w io.Writer, format string, value any) error {
	switch strings.ToLower(format) {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case OutputYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
