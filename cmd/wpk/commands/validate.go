package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/generate"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the project configuration",
		Long: `Load the configuration, build the IR and evaluate policies without
touching the workspace. Exits 1 when the configuration or a policy is
rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			e.dryRun = true
			defer e.close(ctx)

			if e.loadErr != nil {
				return e.loadErr
			}
			g, err := e.generator(ctx, nil)
			if err != nil {
				return err
			}
			summary, err := g.Run(ctx, generate.Options{DryRun: true, AllowDirty: true})
			if err != nil {
				return err
			}

			cfg := e.loaded.Config
			if jsonOutput {
				return e.printJSON(map[string]any{
					"valid":     true,
					"source":    e.loaded.SourcePath,
					"namespace": cfg.Namespace,
					"resources": len(cfg.Resources),
					"schemas":   len(cfg.Schemas),
					"files":     len(summary.Entries),
				})
			}
			fmt.Fprintf(e.out, "%s is valid: namespace %s, %d resource(s), %d schema(s), %d file(s) would be generated.\n",
				e.loaded.SourcePath, cfg.Namespace, len(cfg.Resources), len(cfg.Schemas), len(summary.Entries))
			return nil
		},
	}
}
