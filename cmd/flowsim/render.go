package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rom8726/flowsim"
)

func newRenderCmd(_ *app) *cobra.Command {
	var startStepID string

	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Draw a workflow snapshot as a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), flowsim.NewVisualizer().RenderGraph(&snapshot.Workflow, startStepID))

			return nil
		},
	}

	cmd.Flags().StringVar(&startStepID, "start", "", "Start step id (defaults to the first start step)")

	return cmd
}
