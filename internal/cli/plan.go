package cli

import (
	"github.com/spf13/cobra"

	"github.com/tessera-maps/anchorbatch/internal/batch"
	"github.com/tessera-maps/anchorbatch/internal/config"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
}

// NewPlanCommand creates the plan command: it builds and prints the anchor
// plan for a config without executing any anchors, useful for inspecting
// scheduling order and coverage before committing to a run.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "plan <config.yaml>",
		Short:         "Print the anchor plan for a config without running it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			input, err := batch.NormalizeInput(cfg.ToInput())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid config", err)
			}

			plan := batch.BuildPlan(input.OriginX, input.OriginY, input.Layers, input.MapWidth, input.MapHeight)

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return formatter.Success(struct {
				AnchorCount   int      `json:"anchor_count"`
				PriorityOrder []string `json:"priority_order"`
				Coverage      *batch.Bounds `json:"coverage"`
			}{
				AnchorCount:   len(plan.Anchors),
				PriorityOrder: plan.PriorityOrder,
				Coverage:      plan.Coverage,
			})
		},
	}

	return cmd
}
