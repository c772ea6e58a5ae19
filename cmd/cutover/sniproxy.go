package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/sniproxy"
)

var sniproxyCmd = &cobra.Command{
	Use:   "sniproxy",
	Short: "Run the SNI demultiplexer for redirected port-443 traffic",
	Long: `Sniproxy runs on the deployment host behind the iptables redirect. It
peeks at each connection's TLS ClientHello and splices API hostnames to
the API backend and everything else to the regular ingress, without
terminating TLS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		metricsListen, _ := cmd.Flags().GetString("metrics-listen")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		srv, err := sniproxy.NewServer(sniproxy.Config{
			Listen:         listen,
			APIBackend:     cfg.Cloud.APIBackend,
			IngressBackend: cfg.Cloud.IngressBackend,
			APIHosts:       cfg.Cloud.APIHosts,
			MetricsListen:  metricsListen,
			IdleTimeout:    10 * time.Minute,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Start(ctx)
	},
}

func init() {
	sniproxyCmd.Flags().String("listen", ":8443", "Address for redirected TLS traffic")
	sniproxyCmd.Flags().String("metrics-listen", ":9402", "Prometheus metrics address (empty to disable)")
}
