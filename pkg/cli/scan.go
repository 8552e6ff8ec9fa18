package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-shot vulnerability scan and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			comps, err := buildComponents(log)
			if err != nil {
				return err
			}
			defer comps.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("scan-timeout"))
			defer cancel()

			report := comps.scanner.Scan(ctx)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().String("project-dir", "", "Project directory for the dependency audit")
	cmd.Flags().Duration("scan-timeout", 2*time.Minute, "Overall scan deadline")
	_ = viper.BindPFlag("project-dir", cmd.Flags().Lookup("project-dir"))
	_ = viper.BindPFlag("scan-timeout", cmd.Flags().Lookup("scan-timeout"))
	return cmd
}
