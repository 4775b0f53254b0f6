// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/dissector/internal/config"
)

var (
	// Global flags
	configFile string

	// set with -ldflags "-X firestige.xyz/dissector/cmd.version=..."
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dissector",
		Short: "Dissector - layered packet header dissection",
		Long: `Dissector reads captured packets and dissects them layer by layer.

Each layer analyzer extracts the header fields of one protocol (Ethernet,
IPv4, IPv6, TCP, UDP), names the protocol of the next layer and hands the
rest of the packet to the analyzers subscribed for it. Extracted field sets
are written to the configured sinks (console, file, kafka, memory).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	root.AddCommand(newDissectCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
