package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/toolguard/internal/config"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
	verbose bool

	cfg *config.Config
	// exitCode is set by each command through detect.ExitCode,
	// remediate.ExitCode or restoreExitCode.
	exitCode = detect.ExitClean
	logFile  *logging.RotatingWriter
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "toolguard",
	Short: "Detect and remove an unauthorized tool",
	Long: `toolguard checks this host for an unauthorized tool and, on request,
removes it after taking a restorable backup.

Exit codes: 0 clean, 1 detected or partial remediation, 2 execution failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toolguard v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is toolguard.yaml in the system config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output and supplementary findings")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(detect.ExitError)
	}
	os.Exit(exitCode)
}

// setup loads and validates config, then points the loggers at the
// configured sinks.
func setup() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	out := os.Stderr
	if cfg.LogFile != "" {
		logFile, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logging.Init(cfg.LogFormat, level, logging.TeeWriter(out, logFile))
	} else {
		logging.Init(cfg.LogFormat, level, out)
	}

	if res := cfg.ValidateTiered(); res.HasFatals() {
		for _, e := range res.Fatals {
			log.Error("config validation", logging.KeyError, e)
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(res.Fatals))
	}
	return nil
}
