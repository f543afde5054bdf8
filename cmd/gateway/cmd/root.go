package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/meetupplanner/gateway/pkg/prettylog"
	"github.com/spf13/cobra"
)

var verbose = false
var configPath = ""

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "MeetupPlanner security gateway",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()

		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		if os.Getenv("PRETTY_LOGS") != "false" {
			slog.SetDefault(slog.New(prettylog.NewHandler(logLevel)))
		} else {
			slog.SetLogLoggerLevel(logLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	persistentFlags.StringVarP(&configPath, "config-file", "f", "config/gateway.yaml", "config file path")
}
