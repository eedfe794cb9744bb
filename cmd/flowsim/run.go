package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rom8726/flowsim"
)

type runOutput struct {
	State  flowsim.RunState `json:"state"`
	Report *flowsim.Report  `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	var (
		startStepID string
		maxSteps    int
		seed        uint64
		successRate float64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a workflow snapshot once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			wf := &snapshot.Workflow

			if startStepID == "" {
				startStepID = defaultStartStep(wf)
			}
			if !cmd.Flags().Changed("max-steps") {
				maxSteps = a.cfg.Engine.MaxSteps
			}
			if !cmd.Flags().Changed("seed") {
				seed = a.cfg.Engine.Seed
			}
			if !cmd.Flags().Changed("success-rate") {
				successRate = a.cfg.Engine.SuccessRate
			}

			executor := flowsim.NewExecutor(
				flowsim.WithStepExecutor(a.stepExecutor(seed, successRate)),
				flowsim.WithMaxSteps(maxSteps),
			)
			tracker := flowsim.NewTracker()
			simulator := flowsim.NewSimulator(tracker, executor)

			report, runErr := simulator.Start(cmd.Context(), wf, startStepID)
			state := tracker.State()

			if asJSON {
				out := runOutput{State: state, Report: report}
				if runErr != nil {
					out.Error = runErr.Error()
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), flowsim.NewVisualizer().RenderRunState(state))
				for _, entry := range state.Log {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", entry.Level, entry.Message)
				}
			}

			return runErr
		},
	}

	cmd.Flags().StringVar(&startStepID, "start", "", "Start step id (defaults to the first start step)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", flowsim.DefaultMaxSteps, "Maximum step visits per run")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for the random step outcomes (0 = random)")
	cmd.Flags().Float64Var(&successRate, "success-rate", 0.5, "Success probability of the random step type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print state and report as JSON")

	return cmd
}
