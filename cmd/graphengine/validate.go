package main

import (
	"fmt"

	"github.com/songzhibin97/graph-engine/config"
	"github.com/songzhibin97/graph-engine/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [graph files...]",
	Short: "Check graph definition files",
	Long:  `Loads each graph file (or the graphs named in the config when none are given) and reports structural problems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			paths = cfg.Graphs
		}
		if len(paths) == 0 {
			return fmt.Errorf("no graph files given")
		}

		failed := 0
		for _, p := range paths {
			if err := validateFile(p); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", p, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", p)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d graphs invalid", failed, len(paths))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateFile(path string) error {
	g, err := config.LoadGraph(path)
	if err != nil {
		return err
	}
	return workflow.ValidateGraph(workflow.NormalizeGraph(g))
}
