package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/release"
)

var (
	channelsFile string

	fetchFile    string
	fetchChannel string
	fetchVersion string
	fetchCache   string
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Show the current release of every channel",
	Long: `Resolve the stable, beta and dev channels and show each version with
its download URL.

Channels that cannot be resolved are shown as unavailable. The command fails
only when the stable channel cannot be resolved.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML sequence
  -o json   JSON array`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadRequest(channelsFile)
		if err != nil {
			return err
		}

		endpoints := req.Endpoints()
		resolver := release.NewResolver(endpoints,
			release.WithLogger(logger),
			release.WithUserAgent(userAgent()),
		)
		versions, failures, err := resolver.ResolveAll(cmd.Context())
		if err != nil {
			return err
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		out, err := f.FormatChannels(output.ChannelStatuses(endpoints, req.CacheDir, versions, failures))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(out)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a release into the artifact cache",
	Long: `Resolve a channel and make sure a verified copy of its image is in the
artifact cache, without creating a VM.

A cached copy that fails verification is deleted and downloaded again.

Examples:
  kiln fetch
  kiln fetch --channel dev
  kiln fetch --version 16.3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadRequest(fetchFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("channel") {
			req.Channel = fetchChannel
		}
		if cmd.Flags().Changed("version") {
			req.Version = fetchVersion
		}
		if cmd.Flags().Changed("cache-dir") {
			req.CacheDir = fetchCache
		}
		req.Normalize()
		if err := req.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx := cmd.Context()
		channel := req.ReleaseChannel()
		ver := req.Version
		if ver == "" {
			ver, err = resolveChannel(ctx, req.Endpoints(), channel)
			if err != nil {
				return err
			}
		}

		desc, err := release.NewDescriptor(req.Endpoints(), channel, ver, req.CacheDir)
		if err != nil {
			return err
		}
		entry, err := ensureArtifact(ctx, req, desc)
		if err != nil {
			return err
		}

		printSuccess("%s %s is cached at %s", channel, ver, entry.Path)
		return nil
	},
}

func init() {
	channelsCmd.Flags().StringVarP(&channelsFile, "file", "f", "", "request file with endpoint overrides (YAML)")

	fetchCmd.Flags().StringVarP(&fetchFile, "file", "f", "", "request file (YAML)")
	fetchCmd.Flags().StringVar(&fetchChannel, "channel", "", "release channel: stable, beta or dev")
	fetchCmd.Flags().StringVar(&fetchVersion, "version", "", "fetch this version instead of the channel's current one")
	fetchCmd.Flags().StringVar(&fetchCache, "cache-dir", "", "artifact cache directory")
}

// loadRequest loads path, or returns the defaults when path is empty.
func loadRequest(path string) (config.ProvisionRequest, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}
