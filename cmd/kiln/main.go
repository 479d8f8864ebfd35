package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/pve"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// SIGINT/SIGTERM cancel the run; rollback still completes
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	verbose      bool
	node         string
	outputFormat string
	noHeaders    bool

	logger = logr.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - Home Assistant OS provisioning for Proxmox VE",
	Long: `Kiln provisions Home Assistant OS virtual machines on a Proxmox VE host.

It resolves the current release of a channel, keeps a verified copy of the
appliance image in the host's template cache, and creates, wires and starts
the VM with the host's own tooling. A run that fails before the disks are
attached leaves nothing behind.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(verbose)
		return output.ValidateFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every host command")
	rootCmd.PersistentFlags().StringVar(&node, "node", "", "Proxmox VE node name (default: local hostname)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(poolsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(testConnCmd)
}

// newClient returns a control-plane client for the selected node.
func newClient() *pve.Client {
	return pve.NewClient(pve.NewExecRunner(logger), node, logger)
}

// formatter returns the formatter selected with --output.
func formatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

func userAgent() string {
	return "kiln/" + version
}
