package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"watchtower/pkg/events"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a one-shot threat sweep and print the findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			comps, err := buildComponents(log)
			if err != nil {
				return err
			}
			defer comps.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			threats := comps.detector.CheckSecurityThreats(ctx)
			for _, threat := range threats {
				comps.correlator.ProcessEvent(ctx, threat.Event())
			}

			out := struct {
				Timestamp time.Time `json:"timestamp"`
				Threats   any       `json:"threats"`
				Worst     string    `json:"worst_severity,omitempty"`
			}{Timestamp: time.Now().UTC(), Threats: threats}
			worst := events.SeverityInfo
			for _, threat := range threats {
				if threat.Severity.Rank() > worst.Rank() {
					worst = threat.Severity
				}
			}
			if len(threats) > 0 {
				out.Worst = string(worst)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	return cmd
}
