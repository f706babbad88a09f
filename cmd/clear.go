package cmd

import (
	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every indexed site, stored page, status record and vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Admin().Clear(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"success": true, "urlsCleared": n})
		},
	}
}
