package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/artifact"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/metrics"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/progress"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/storage"
)

// createFlags holds the command-line overrides of a provision request.
type createFlags struct {
	file            string
	vmid            int
	name            string
	channel         string
	version         string
	cores           int
	memoryMiB       int
	diskSize        string
	machine         string
	cpuType         string
	diskCache       string
	storage         string
	bridge          string
	mac             string
	vlan            int
	mtu             int
	usb             string
	noStart         bool
	noOnBoot        bool
	tags            []string
	cacheDir        string
	workDir         string
	metricsTextfile string
}

var createOpts createFlags

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a Home Assistant OS VM",
	Long: `Provision a Home Assistant OS virtual machine.

The run resolves the channel's current release (unless --version pins one),
makes sure a verified copy of the image is in the cache, decompresses it to
a per-run work directory and creates the VM. Settings come from the optional
request file and are overridden by flags.

A failure before the disks are attached destroys the half-built VM. Failures
to attach the USB device or to start the VM are reported as warnings.

Examples:
  kiln create
  kiln create --channel beta --storage local-zfs --usb host=1a86:55d4
  kiln create -f haos.yaml --vmid 300`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd, createOpts)
		if err != nil {
			return err
		}
		return runCreate(cmd.Context(), req)
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createOpts.file, "file", "f", "", "request file (YAML)")
	f.IntVar(&createOpts.vmid, "vmid", 0, "VM ID (default: next free ID)")
	f.StringVar(&createOpts.name, "name", "", "VM name (default: haos-<version>)")
	f.StringVar(&createOpts.channel, "channel", "", "release channel: stable, beta or dev")
	f.StringVar(&createOpts.version, "version", "", "install this version instead of the channel's current one")
	f.IntVar(&createOpts.cores, "cores", 0, "CPU cores")
	f.IntVar(&createOpts.memoryMiB, "memory", 0, "memory in MiB")
	f.StringVar(&createOpts.diskSize, "disk-size", "", "root disk size, e.g. 32G")
	f.StringVar(&createOpts.machine, "machine", "", "machine type: q35 or i440fx")
	f.StringVar(&createOpts.cpuType, "cpu", "", "CPU model: host or kvm64")
	f.StringVar(&createOpts.diskCache, "disk-cache", "", "disk cache mode: writethrough, or empty for the storage default")
	f.StringVar(&createOpts.storage, "storage", "", "target storage (default: active storage with most free space)")
	f.StringVar(&createOpts.bridge, "bridge", "", "network bridge")
	f.StringVar(&createOpts.mac, "mac", "", "MAC address (default: random)")
	f.IntVar(&createOpts.vlan, "vlan", 0, "VLAN tag")
	f.IntVar(&createOpts.mtu, "mtu", 0, "interface MTU")
	f.StringVar(&createOpts.usb, "usb", "", "USB device to pass through, host=<vendor>:<product> or host=<bus>-<port>")
	f.BoolVar(&createOpts.noStart, "no-start", false, "do not start the VM after provisioning")
	f.BoolVar(&createOpts.noOnBoot, "no-onboot", false, "do not start the VM with the host")
	f.StringSliceVar(&createOpts.tags, "tag", nil, "guest tag (repeatable)")
	f.StringVar(&createOpts.cacheDir, "cache-dir", "", "artifact cache directory")
	f.StringVar(&createOpts.workDir, "work-dir", "", "directory for decompressed images")
	f.StringVar(&createOpts.metricsTextfile, "metrics-textfile", "", "write run metrics to this file")
}

// buildRequest loads the request file, applies the flags that were set and
// validates the result.
func buildRequest(cmd *cobra.Command, opts createFlags) (config.ProvisionRequest, error) {
	req := config.Default()
	if opts.file != "" {
		loaded, err := config.LoadFromFile(opts.file)
		if err != nil {
			return config.ProvisionRequest{}, err
		}
		req = loaded
	}

	changed := cmd.Flags().Changed
	if changed("vmid") {
		req.VMID = opts.vmid
	}
	if changed("name") {
		req.Name = opts.name
	}
	if changed("channel") {
		req.Channel = opts.channel
	}
	if changed("version") {
		req.Version = opts.version
	}
	if changed("cores") {
		req.Cores = opts.cores
	}
	if changed("memory") {
		req.MemoryMiB = opts.memoryMiB
	}
	if changed("disk-size") {
		req.DiskSize = opts.diskSize
	}
	if changed("machine") {
		req.Machine = opts.machine
	}
	if changed("cpu") {
		req.CPUType = opts.cpuType
	}
	if changed("disk-cache") {
		req.DiskCache = opts.diskCache
	}
	if changed("storage") {
		req.Storage = opts.storage
	}
	if changed("bridge") {
		req.Network.Bridge = opts.bridge
	}
	if changed("mac") {
		req.Network.MAC = opts.mac
	}
	if changed("vlan") {
		req.Network.VLAN = opts.vlan
	}
	if changed("mtu") {
		req.Network.MTU = opts.mtu
	}
	if changed("usb") {
		req.USBPassthrough = opts.usb
	}
	if changed("no-start") {
		start := !opts.noStart
		req.Start = &start
	}
	if changed("no-onboot") {
		onBoot := !opts.noOnBoot
		req.OnBoot = &onBoot
	}
	if changed("tag") {
		req.Tags = append([]string(nil), opts.tags...)
	}
	if changed("cache-dir") {
		req.CacheDir = opts.cacheDir
	}
	if changed("work-dir") {
		req.WorkDir = opts.workDir
	}
	if changed("metrics-textfile") {
		req.MetricsTextfile = opts.metricsTextfile
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return config.ProvisionRequest{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return req, nil
}

// runCreate executes a full provisioning run.
func runCreate(ctx context.Context, req config.ProvisionRequest) (err error) {
	rec := metrics.NewRecorder()
	recorded := false
	defer func() {
		if req.MetricsTextfile == "" {
			return
		}
		if !recorded {
			rec.RecordRun(false, false, 0, nil, time.Now())
		}
		if werr := rec.WriteTextfile(req.MetricsTextfile); werr != nil {
			logger.Info("warning: failed to write metrics", "warning", werr.Error(), "path", req.MetricsTextfile)
		}
	}()

	client := newClient()

	// Step 1: Pick the storage
	if req.Storage == "" {
		pools, err := client.Storages(ctx)
		if err != nil {
			return err
		}
		pool, err := storage.SelectDefault(pools)
		if err != nil {
			return err
		}
		req.Storage = pool.Name
		printStep("Using storage %s (%s, %.1f GB free)", pool.Name, pool.Type, pool.AvailableGB())
	}

	// Step 2: Resolve the version
	channel := req.ReleaseChannel()
	ver := req.Version
	if ver == "" {
		ver, err = resolveChannel(ctx, req.Endpoints(), channel)
		if err != nil {
			return err
		}
	}
	printStep("Home Assistant OS %s (%s channel)", ver, channel)

	final, err := req.Finalize(ver)
	if err != nil {
		return err
	}

	// Step 3: Make sure the artifact is cached
	desc, err := release.NewDescriptor(final.Endpoints(), channel, ver, final.CacheDir)
	if err != nil {
		return err
	}
	entry, err := ensureArtifact(ctx, final, desc)
	if err != nil {
		return err
	}
	rec.RecordArtifact(entry.Hit, entry.Bytes)

	// Step 4: Decompress into a per-run work directory
	runID := uuid.NewString()
	runDir := filepath.Join(final.WorkDir, runID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			logger.Info("warning: failed to remove work directory", "warning", rmErr.Error(), "path", runDir)
		}
	}()

	imgPath := filepath.Join(runDir, desc.ImageName())
	format, err := artifact.NewExtractor(logger, progress.For(os.Stderr)).Extract(ctx, entry.Path, imgPath)
	if err != nil {
		return err
	}
	logger.V(1).Info("image ready", "path", imgPath, "format", format)

	// Step 5: Provision
	img := provision.Image{Path: imgPath, Version: ver, Channel: channel}
	orch := provision.New(client, logger)
	res, runErr := orch.Provision(ctx, provision.Input{Request: final, Image: img, RunID: runID})

	rec.RecordRun(runErr == nil, res.RolledBack, len(res.Warnings), res.Durations, time.Now())
	recorded = true
	if runErr == nil {
		rec.RecordRelease(channel.String(), ver)
	}

	if err := printRun(output.NewRunReport(res, img, runErr)); err != nil {
		return err
	}
	if runErr != nil {
		if res.RolledBack {
			printWarning("VM %d was removed", res.VMID)
		}
		return runErr
	}

	for _, w := range res.Warnings {
		printWarning("%v", w)
	}
	printSuccess("VM %d (%s) provisioned", res.VMID, res.Name)
	return nil
}

// resolveChannel resolves every channel and returns channel's version. The
// stable channel must resolve before anything is downloaded.
func resolveChannel(ctx context.Context, endpoints release.Endpoints, channel release.Channel) (string, error) {
	resolver := release.NewResolver(endpoints,
		release.WithLogger(logger),
		release.WithUserAgent(userAgent()),
	)
	versions, failures, err := resolver.ResolveAll(ctx)
	if err != nil {
		return "", err
	}
	v, ok := versions[channel]
	if !ok {
		if ferr := failures[channel]; ferr != nil {
			return "", ferr
		}
		return "", &release.ResolutionError{Channel: channel, Err: errors.New("no version published")}
	}
	return v, nil
}

// ensureArtifact downloads desc unless a verified copy is cached.
func ensureArtifact(ctx context.Context, req config.ProvisionRequest, desc release.Descriptor) (artifact.Entry, error) {
	cache := artifact.NewCache(req.DownloadLimits(),
		artifact.WithLogger(logger),
		artifact.WithProgress(progress.For(os.Stderr)),
		artifact.WithUserAgent(userAgent()),
	)
	entry, err := cache.Ensure(ctx, desc)
	if err != nil {
		return artifact.Entry{}, err
	}
	if entry.Hit {
		printStep("Using cached %s", entry.Path)
	} else {
		printStep("Downloaded %s", entry.Path)
	}
	return entry, nil
}

func printRun(report *output.RunReport) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	out, err := f.FormatRun(report)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(out)
	return nil
}
