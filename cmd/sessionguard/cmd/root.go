package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	host    string
	port    int
	version = "dev" // Set by build
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sessionguard",
	Short: "SessionGuard - Admin session lifetime coordinator",
	Long: `SessionGuard coordinates admin console session lifetime across
client instances: it tracks user activity, runs the shared inactivity
countdown with warning and expiry phases, and executes a clean logout
exactly once no matter how many instances are open.

State is shared through a pluggable key-value store (memory, LevelDB or
Redis) and live events ride Redis pub/sub with a store-watch fallback.`,
	Version: version,
	// Default to serve command when no subcommand is specified
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "sessionguard.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&host, "host", "0.0.0.0", "Server host address")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 4800, "Server port number")
}
