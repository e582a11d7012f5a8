package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is set at link time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "eteed",
	Short:        "etee controller daemon",
	Long:         "eteed reads the etee dongle and publishes hand poses over MQTT and WebSocket.",
	SilenceUsage: true,
	PersistentPostRun: func(*cobra.Command, []string) {
		glog.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func main() {
	// glog flags, parsed by cobra.
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	flag.CommandLine.Parse(nil)

	serveFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
	initFlags(initCmd)
	rootCmd.AddCommand(initCmd)
	probeFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
