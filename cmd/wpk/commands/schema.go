package commands

import (
	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Example: `  # Point an editor at the schema
  wpk schema > wpk.config.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return engine.NewUnexpectedError("failed to render configuration schema", err)
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
}
