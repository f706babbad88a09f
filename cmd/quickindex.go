package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

func newQuickIndexCmd() *cobra.Command {
	var useJavaScript bool
	cmd := &cobra.Command{
		Use:   "quick-index <url>",
		Short: "Index a single page immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := crawler.ParseSeed(args[0]); err != nil {
				return err
			}
			res := appInstance.Indexer().QuickIndex(cmd.Context(), args[0], useJavaScript)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("quick index of %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useJavaScript, "js", false, "render the page in headless Chrome")
	return cmd
}
