package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/provision"
)

// profileExampleID is the VM ID used for example disk references.
const profileExampleID = 100

var destroyCmd = &cobra.Command{
	Use:   "destroy <vmid>",
	Short: "Destroy a VM",
	Long: `Destroy a virtual machine by ID.

This will:
- Stop the VM if running
- Remove the VM and every disk it references
- Purge it from backup jobs and HA resources`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmid, err := strconv.Atoi(args[0])
		if err != nil || vmid < 100 {
			return fmt.Errorf("invalid vmid %q", args[0])
		}

		printStep("Destroying VM %d", vmid)
		orch := provision.New(newClient(), logger)
		if err := orch.Destroy(cmd.Context(), vmid); err != nil {
			return fmt.Errorf("failed to destroy VM: %w", err)
		}

		printSuccess("VM %d destroyed", vmid)
		return nil
	},
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List storages that accept VM disks",
	Long: `List the node's storages that accept VM disk images, with their backend
type, free space and the disk layout kiln uses on them.

The storage marked as default is used when no storage is configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pools, err := newClient().Storages(cmd.Context())
		if err != nil {
			return err
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		out, err := f.FormatPools(output.PoolViews(pools))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(out)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <storage>",
	Short: "Show how disks are addressed on a storage",
	Long: `Show the disk profile kiln uses for a storage: where volumes live, the
import format and whether thin provisioning flags are set.

The disk references are examples for VM 100.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		backend, err := newClient().StorageType(cmd.Context(), name)
		if err != nil {
			return err
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		out, err := f.FormatProfile(output.NewProfileView(name, backend, profileExampleID))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(out)
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the Proxmox VE tooling",
	Long:  `Check that the Proxmox VE command-line tools respond and display the host version.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := newClient()

		printTitle("Testing Proxmox VE tooling on node %s...", client.Node())

		ver, err := client.Version(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		printSuccess("Version: %s", ver)

		next, err := client.NextID(ctx)
		if err != nil {
			return fmt.Errorf("failed to query cluster: %w", err)
		}
		printSuccess("Next free VM ID: %d", next)

		pools, err := client.Storages(ctx)
		if err != nil {
			return err
		}
		printSuccess("Storages accepting VM disks: %d", len(pools))

		_, _ = fmt.Fprintln(statusOut, "\nConnection test successful!")
		return nil
	},
}
