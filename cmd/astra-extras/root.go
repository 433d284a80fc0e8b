package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/astracloud/astra-extras/internal/config"
	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/platform"
	"github.com/astracloud/astra-extras/internal/store"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	verbose   bool

	globalCfg *config.Config
	logger    *slog.Logger

	// historyStore records runs; nil when the database cannot be opened,
	// which is never fatal.
	historyStore *store.Store
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "astra-extras",
		Short: "Job orchestration and data movement companion for the astra platform",
		Long: `astra-extras automates the data and image plumbing around astra jobs:
copying datasets between local disks, object stores and platform storage,
building container images remotely with Kaniko, transferring storage and
images between clusters, and generating Kubernetes credentials manifests.`,
		Example: `  astra-extras data cp -x s3://bucket/data.tar.gz storage:datasets/
  astra-extras data transfer storage:datasets storage://other-cluster/proj/datasets
  astra-extras image build . image:myimage:v1
  astra-extras image transfer image://a/proj/img:v1 image://b/proj/img:v1
  astra-extras history --kind data-cp`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			var err error
			globalCfg, err = config.LoadOrDefault(cfgPath)
			if err != nil {
				return err
			}
			logger.Debug("config loaded",
				"platform_bin", globalCfg.Platform.Bin,
				"extras_image", globalCfg.Platform.ExtrasImage)

			openHistory()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeHistory()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "shorthand for --log-level debug")

	cmd.AddCommand(
		newDataCmd(),
		newImageCmd(),
		newConfigCmd(),
		newK8sCmd(),
		newSeldonCmd(),
		newHistoryCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}

// newPlatformCLI wraps the configured astra binary.
func newPlatformCLI() *platform.CLI {
	return platform.NewCLI(globalCfg.Platform.Bin, nil, logger)
}

// newDriver builds the job driver all remote operations share.
func newDriver(cli *platform.CLI) *job.Driver {
	return job.NewDriver(job.NewCLIAPI(cli), logger, job.DriverOptions{
		PollInterval: globalCfg.Platform.PollInterval.Std(),
	})
}

// openHistory opens the run history database. History is best-effort:
// a broken database degrades to a warning, never a failed operation.
func openHistory() {
	st, err := store.New(globalCfg.HistoryDBPath(), logger)
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return
	}
	historyStore = st
}

func closeHistory() {
	if historyStore == nil {
		return
	}
	if err := historyStore.Close(); err != nil {
		logger.Warn("closing run history", "error", err)
	}
	historyStore = nil
}

// startRun records the beginning of an operation in the history store.
// Returns nil when history is unavailable.
func startRun(kind, source, destination, image string) *store.Run {
	if historyStore == nil {
		return nil
	}
	run := &store.Run{
		Kind:        kind,
		Source:      source,
		Destination: destination,
		Image:       image,
		StartTime:   time.Now().UTC(),
	}
	if err := historyStore.StartRun(run); err != nil {
		logger.Warn("recording run start", "error", err)
		return nil
	}
	return run
}

// finishRun records the terminal state of a run, deriving status and
// exit code from the operation error.
func finishRun(run *store.Run, jobID string, opErr error) {
	if run == nil || historyStore == nil {
		return
	}
	run.JobID = jobID
	run.Status = store.StatusSucceeded
	if opErr != nil {
		run.Status = store.StatusFailed
		if isCancelled(opErr) {
			run.Status = store.StatusCancelled
		}
	}
	if code, ok := errExitCode(opErr); ok {
		run.ExitCode.Int64 = int64(code)
		run.ExitCode.Valid = true
	} else if opErr == nil {
		run.ExitCode.Int64 = 0
		run.ExitCode.Valid = true
	}
	if err := historyStore.FinishRun(run); err != nil {
		logger.Warn("recording run finish", "error", err)
	}
}
