package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/gitrs-bundler/internal/config"
)

// targetsCmd prints every supported target with its pinned vendor bundle.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List supported targets and their pinned vendor bundles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		_, _ = fmt.Fprintln(w, "TARGET\tBINARY\tARTIFACT\tSHA256\tSOURCE")

		for _, target := range config.Targets() {
			cfg, err := config.Resolve(target, ".")
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				target, cfg.BinaryName(), cfg.ArchiveName(), cfg.ExpectedDigest(), cfg.Source())
		}

		return w.Flush()
	},
}
