// Command lens is the command-line client of a TinyLens server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicktill/tinylens/pkg/client"
	"github.com/nicktill/tinylens/pkg/logger"
)

var (
	logLevel  string
	serverURL string

	log logger.Logger
	api *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "lens",
	Short: "lens explores time-bucketed data on a TinyLens server",
	Long: `Query aggregations, browse and review annotations, and render charts
against a running TinyLens server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(viper.GetString("log_level"))
		api = client.New(viper.GetString("server"), log)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "TinyLens server URL")

	viper.SetEnvPrefix("TINYLENS")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(indicesCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(valuesCmd)
	rootCmd.AddCommand(annotationsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(exploreCmd)
}
