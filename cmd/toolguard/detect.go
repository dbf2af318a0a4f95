package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/render"
)

var (
	detectJSON     bool
	detectParallel int
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check this host for the tool",
	Long: `Runs every core probe, then every supplementary probe, and prints a
verdict. Exit code 1 means at least one core probe found the tool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newHost()
		if err != nil {
			exitCode = detect.ExitCode(nil, err)
			return err
		}

		parallel := cfg.ParallelProbes
		if cmd.Flags().Changed("parallel") {
			parallel = detectParallel
		}
		report, err := runDetection(cmd.Context(), h, parallel)
		exitCode = detect.ExitCode(report, err)
		if err != nil {
			return nil
		}

		if detectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Print(render.Detection(report, verbose))
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "write the report as JSON to stdout")
	detectCmd.Flags().IntVar(&detectParallel, "parallel", 0, "run probes on N workers (0 runs them in order)")
}
