package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meetupplanner/gateway/pkg/gateway"
	"github.com/meetupplanner/gateway/pkg/util"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the security gateway",
	Run: func(cmd *cobra.Command, args []string) {
		path := util.GetEnv("GATEWAY_CONFIG_PATH", configPath)
		slog.Info("loading gateway config", "config_path", path)

		config, err := gateway.LoadConfigFile(path)
		cobra.CheckErr(err)

		server, err := gateway.New(config)
		cobra.CheckErr(err)

		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("gateway stopped", "error", err)
				os.Exit(1)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down gateway")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	},
}
