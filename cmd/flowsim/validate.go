package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rom8726/flowsim"
)

var errInvalidWorkflow = errors.New("workflow is invalid")

func newValidateCmd(_ *app) *cobra.Command {
	var startStepID string

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow snapshot for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}

			report := flowsim.ValidateWorkflow(&snapshot.Workflow, startStepID)
			analytics := flowsim.AnalyzeWorkflow(&snapshot.Workflow)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Workflow %s: %d steps, %d transitions, %d parallel branches\n",
				snapshot.Workflow.ID, analytics.TotalSteps, analytics.TotalTransitions, analytics.ParallelBranches)
			for _, msg := range report.Errors {
				fmt.Fprintf(out, "error: %s\n", msg)
			}
			for _, msg := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", msg)
			}

			if !report.Valid {
				return errInvalidWorkflow
			}
			fmt.Fprintln(out, "ok")

			return nil
		},
	}

	cmd.Flags().StringVar(&startStepID, "start", "", "Start step id to check reachability from")

	return cmd
}
