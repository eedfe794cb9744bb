package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"github.com/rom8726/flowsim"
	"github.com/rom8726/flowsim/internal/config"
	"github.com/rom8726/flowsim/internal/logging"
)

var version = "dev"

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "flowsim",
		Short:         "Simulate marketing workflows step by step",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewWithWriter(cfg.Log.Level, cfg.Log.Format, stderr)
			slog.SetDefault(a.logger)

			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to flowsim.yaml")

	rootCmd.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newRenderCmd(a),
		newServeCmd(a),
	)

	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stepExecutor builds the random outcome hook from the engine settings.
func (a *app) stepExecutor(seed uint64, successRate float64) flowsim.StepExecutor {
	var rnd *rand.Rand
	if seed != 0 {
		rnd = rand.New(rand.NewPCG(seed, seed))
	}

	return flowsim.NewRandomStepExecutor(flowsim.StepType(a.cfg.Engine.RandomStepType), successRate, rnd)
}

func loadSnapshot(path string) (*flowsim.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	snapshot, err := flowsim.ParseSnapshot(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return snapshot, nil
}

func defaultStartStep(wf *flowsim.Workflow) string {
	for _, step := range wf.Steps {
		if step.Type == flowsim.StepTypeStart {
			return step.ID
		}
	}

	return ""
}
