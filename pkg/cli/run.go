package cli

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"watchtower/pkg/monitor"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			comps, err := buildComponents(log)
			if err != nil {
				return err
			}
			defer comps.close()

			cfg := monitor.DefaultConfig()
			if d := viper.GetDuration("interval"); d > 0 {
				cfg.Interval = d
			}
			orch := monitor.New(cfg, comps.detector, comps.scanner, comps.correlator, comps.alerts, comps.audit, log)
			if err := orch.Start(); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{
				Addr:              viper.GetString("listen"),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", "err", err)
				}
			}()
			log.Info("watchtower running", "listen", srv.Addr)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			orch.Stop()
			_ = srv.Close()
			return nil
		},
	}
	cmd.Flags().Duration("interval", 60*time.Second, "Monitoring cycle interval")
	cmd.Flags().String("listen", ":7030", "Health and metrics listen address")
	_ = viper.BindPFlag("interval", cmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}
