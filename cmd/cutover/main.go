package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hullside/cutover/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cutover",
	Short: "Cutover - zero-downtime blue-green deployments over SSH",
	Long: `Cutover deploys Docker Compose applications to a remote host with
blue-green container sets: the new color starts alongside the old one,
must prove itself healthy, and only then receives traffic via a hitless
nginx reload. A failed deployment never touches the serving containers.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLogs})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cutover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cutover.yml", "Application config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Emit JSON logs")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(sniproxyCmd)
}
