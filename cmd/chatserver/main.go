// Command chatserver runs the chatrelay server: the chat listener, the
// admin listener, and a small Prometheus /metrics endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatrelay/chatserver"
	"chatrelay/config"
	"chatrelay/registry"
	"chatrelay/utils"
)

var (
	configPath  string
	listenAddr  string
	adminAddr   string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "chatserver",
		Short: "Run the chatrelay server",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a JSON settings file")
	root.Flags().StringVar(&listenAddr, "listen", "", "override the chat listen address")
	root.Flags().StringVar(&adminAddr, "admin-listen", "", "override the admin listen address")
	root.Flags().StringVar(&metricsAddr, "metrics-listen", ":9090", "address to serve /metrics on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		if err := config.Reload(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		utils.Reconfigure()
	}

	cfg := config.GlobalCfg
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if adminAddr != "" {
		cfg.AdminListen = adminAddr
	}

	srv := chatserver.New(cfg)

	collector := registry.NewMetricsCollector(srv.Registry())
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	err := srv.Run(stop)
	_ = metricsServer.Close()
	utils.Logger.Sync()
	return err
}
