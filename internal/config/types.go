package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/artifact"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/storage"
)

// Defaults applied by Normalize.
const (
	DefaultCores     = 2
	DefaultMemoryMiB = 4096
	DefaultDiskSize  = "32G"
	DefaultMachine   = "q35"
	DefaultCPUType   = "kvm64"
	DefaultBridge    = "vmbr0"
	DefaultWorkDir   = "/var/tmp/kiln"
)

var (
	// namePattern matches VM names (after normalization to lowercase).
	namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)
	// tagPattern matches a single guest tag.
	tagPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9._-]*$`)
	// diskSizePattern matches qm size strings such as 32G.
	diskSizePattern = regexp.MustCompile(`^[1-9][0-9]*[KMGT]?$`)
	// usbPattern matches host=<vendor>:<product> or host=<bus>-<port>[.<port>...].
	usbPattern = regexp.MustCompile(`^host=([0-9a-f]{4}:[0-9a-f]{4}|[0-9]+-[0-9]+(\.[0-9]+)*)$`)
	// bridgePattern matches a Linux interface name.
	bridgePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,14}$`)
	// storagePattern matches a storage ID.
	storagePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
)

// ProvisionRequest is the complete configuration of one run.
type ProvisionRequest struct {
	VMID           int           `yaml:"vmid,omitempty"` // 0 means allocate
	Name           string        `yaml:"name,omitempty"`
	Channel        string        `yaml:"channel,omitempty"`
	Version        string        `yaml:"version,omitempty"` // pin, skips resolution
	Cores          int           `yaml:"cores,omitempty"`
	MemoryMiB      int           `yaml:"memory_mib,omitempty"`
	DiskSize       string        `yaml:"disk_size,omitempty"`
	Machine        string        `yaml:"machine,omitempty"`  // q35 or i440fx
	CPUType        string        `yaml:"cpu_type,omitempty"` // host or kvm64
	DiskCache      string        `yaml:"disk_cache,omitempty"`
	Storage        string        `yaml:"storage,omitempty"`
	Network        NetworkConfig `yaml:"network,omitempty"`
	USBPassthrough string        `yaml:"usb_passthrough,omitempty"`
	Start          *bool         `yaml:"start,omitempty"`  // Pointer to distinguish unset vs false
	OnBoot         *bool         `yaml:"onboot,omitempty"` // Pointer to distinguish unset vs false
	Tags           []string      `yaml:"tags,omitempty"`

	CacheDir        string          `yaml:"cache_dir,omitempty"`
	WorkDir         string          `yaml:"work_dir,omitempty"`
	Metadata        MetadataConfig  `yaml:"metadata,omitempty"`
	Artifacts       ArtifactsConfig `yaml:"artifacts,omitempty"`
	Download        DownloadConfig  `yaml:"download,omitempty"`
	MetricsTextfile string          `yaml:"metrics_textfile,omitempty"`
}

// NetworkConfig describes the VM's single interface.
type NetworkConfig struct {
	Bridge string `yaml:"bridge,omitempty"`
	MAC    string `yaml:"mac,omitempty"`  // random 02: address when empty
	VLAN   int    `yaml:"vlan,omitempty"` // 0 means untagged
	MTU    int    `yaml:"mtu,omitempty"`  // 0 means bridge default
}

// MetadataConfig overrides the channel metadata URL templates.
type MetadataConfig struct {
	Primary  string `yaml:"primary,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`
}

// ArtifactsConfig overrides the artifact URL templates.
type ArtifactsConfig struct {
	Release string `yaml:"release,omitempty"`
	Dev     string `yaml:"dev,omitempty"`
}

// DownloadConfig bounds artifact downloads.
type DownloadConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Retries        *int          `yaml:"retries,omitempty"`
}

// Normalize sanitizes user input and fills defaults. It does not pick a
// name or MAC address; see Finalize.
func (r *ProvisionRequest) Normalize() {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	r.Version = strings.TrimSpace(r.Version)
	r.DiskSize = strings.ToUpper(strings.TrimSpace(r.DiskSize))
	r.Machine = strings.ToLower(strings.TrimSpace(r.Machine))
	r.CPUType = strings.ToLower(strings.TrimSpace(r.CPUType))
	r.DiskCache = strings.ToLower(strings.TrimSpace(r.DiskCache))
	r.Storage = strings.TrimSpace(r.Storage)
	r.USBPassthrough = strings.ToLower(strings.TrimSpace(r.USBPassthrough))
	r.Network.MAC = strings.ToLower(strings.TrimSpace(r.Network.MAC))

	// Note: Bridge and storage names are NOT lowercased - they must match host config exactly

	tags := r.Tags[:0]
	for _, t := range r.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	r.Tags = tags

	if r.Channel == "" {
		r.Channel = string(release.ChannelStable)
	}
	if r.Cores == 0 {
		r.Cores = DefaultCores
	}
	if r.MemoryMiB == 0 {
		r.MemoryMiB = DefaultMemoryMiB
	}
	if r.DiskSize == "" {
		r.DiskSize = DefaultDiskSize
	}
	if r.Machine == "" {
		r.Machine = DefaultMachine
	}
	if r.CPUType == "" {
		r.CPUType = DefaultCPUType
	}
	if r.Network.Bridge == "" {
		r.Network.Bridge = DefaultBridge
	}
	if r.CacheDir == "" {
		r.CacheDir = storage.DefaultCacheDir
	}
	if r.WorkDir == "" {
		r.WorkDir = DefaultWorkDir
	}
}

// Validate checks the request structure. It does not check host resources
// (storages, bridges, IDs).
func (r *ProvisionRequest) Validate() error {
	if r.VMID < 0 {
		return fmt.Errorf("vmid must be >= 0, got %d", r.VMID)
	}
	if r.VMID > 0 && r.VMID < 100 {
		return fmt.Errorf("vmid must be >= 100, got %d", r.VMID)
	}
	if r.Name != "" && !namePattern.MatchString(r.Name) {
		return fmt.Errorf("name must start and end with alphanumeric characters and contain only alphanumeric, dots or hyphens, got %q", r.Name)
	}
	if _, err := release.ParseChannel(r.Channel); err != nil {
		return err
	}
	if r.Version != "" {
		if err := release.ValidateVersion(r.Version); err != nil {
			return fmt.Errorf("version: %w", err)
		}
	}
	if r.Cores <= 0 {
		return fmt.Errorf("cores must be > 0, got %d", r.Cores)
	}
	if r.MemoryMiB <= 0 {
		return fmt.Errorf("memory_mib must be > 0, got %d", r.MemoryMiB)
	}
	if !diskSizePattern.MatchString(r.DiskSize) {
		return fmt.Errorf("disk_size must be a number with optional K, M, G or T suffix, got %q", r.DiskSize)
	}
	switch r.Machine {
	case "q35", "i440fx":
	default:
		return fmt.Errorf("machine must be q35 or i440fx, got %q", r.Machine)
	}
	switch r.CPUType {
	case "host", "kvm64":
	default:
		return fmt.Errorf("cpu_type must be host or kvm64, got %q", r.CPUType)
	}
	switch r.DiskCache {
	case "", "writethrough":
	default:
		return fmt.Errorf("disk_cache must be empty or writethrough, got %q", r.DiskCache)
	}
	if r.Storage != "" && !storagePattern.MatchString(r.Storage) {
		return fmt.Errorf("storage must start with a letter and contain only letters, digits, '.', '_' or '-', got %q", r.Storage)
	}
	if err := r.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if r.USBPassthrough != "" && !usbPattern.MatchString(r.USBPassthrough) {
		return fmt.Errorf("usb_passthrough must be host=<vendor>:<product> or host=<bus>-<port>, got %q", r.USBPassthrough)
	}
	for i, t := range r.Tags {
		if !tagPattern.MatchString(t) {
			return fmt.Errorf("tags[%d] may contain only a-z, 0-9, '.', '_' and '-', got %q", i, t)
		}
	}
	if err := r.Download.Validate(); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// Validate checks network configuration.
func (n *NetworkConfig) Validate() error {
	if n.Bridge == "" {
		return fmt.Errorf("bridge is required")
	}
	if !bridgePattern.MatchString(n.Bridge) {
		return fmt.Errorf("bridge must be an interface name of at most 15 letters, digits, '.', '_' or '-', got %q", n.Bridge)
	}
	if n.MAC != "" {
		if _, err := naming.NormalizeMAC(n.MAC); err != nil {
			return err
		}
	}
	if n.VLAN != 0 && (n.VLAN < 1 || n.VLAN > 4094) {
		return fmt.Errorf("vlan must be between 1 and 4094, got %d", n.VLAN)
	}
	if n.MTU != 0 && (n.MTU < 576 || n.MTU > 65520) {
		return fmt.Errorf("mtu must be between 576 and 65520, got %d", n.MTU)
	}
	return nil
}

// Validate checks download limits.
func (d *DownloadConfig) Validate() error {
	if d.ConnectTimeout < 0 || d.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if d.Retries != nil && *d.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", *d.Retries)
	}
	return nil
}

// Finalize fills the fields that depend on the resolved version and
// returns the completed request. The receiver is not modified.
func (r ProvisionRequest) Finalize(version string) (ProvisionRequest, error) {
	if err := release.ValidateVersion(version); err != nil {
		return ProvisionRequest{}, err
	}
	r.Version = version
	if r.Name == "" {
		r.Name = naming.DefaultVMName(version)
	}
	if r.Network.MAC == "" {
		mac, err := naming.RandomMAC()
		if err != nil {
			return ProvisionRequest{}, err
		}
		r.Network.MAC = mac
	} else {
		mac, err := naming.NormalizeMAC(r.Network.MAC)
		if err != nil {
			return ProvisionRequest{}, err
		}
		r.Network.MAC = mac
	}
	r.Tags = append([]string(nil), r.Tags...)
	if err := r.Validate(); err != nil {
		return ProvisionRequest{}, err
	}
	return r, nil
}

// ReleaseChannel returns the parsed channel.
func (r *ProvisionRequest) ReleaseChannel() release.Channel {
	ch, err := release.ParseChannel(r.Channel)
	if err != nil {
		return release.ChannelStable
	}
	return ch
}

// ShouldStart reports whether the VM is started after provisioning.
// Defaults to true.
func (r *ProvisionRequest) ShouldStart() bool {
	return r.Start == nil || *r.Start
}

// StartOnBoot reports whether the VM starts with the host. Defaults to true.
func (r *ProvisionRequest) StartOnBoot() bool {
	return r.OnBoot == nil || *r.OnBoot
}

// MachineType returns the qm --machine value.
func (r *ProvisionRequest) MachineType() string {
	if r.Machine == "i440fx" {
		return "pc"
	}
	return r.Machine
}

// CPU returns the qm --cpu value.
func (r *ProvisionRequest) CPU() string {
	return r.CPUType
}

// Endpoints returns the metadata and artifact URL templates with defaults
// filled in.
func (r *ProvisionRequest) Endpoints() release.Endpoints {
	return release.Endpoints{
		MetadataPrimary:  r.Metadata.Primary,
		MetadataFallback: r.Metadata.Fallback,
		ReleaseURL:       r.Artifacts.Release,
		DevURL:           r.Artifacts.Dev,
	}.WithDefaults()
}

// DownloadLimits returns the artifact download bounds with defaults filled in.
func (r *ProvisionRequest) DownloadLimits() artifact.DownloadConfig {
	retries := artifact.DefaultRetries
	if r.Download.Retries != nil {
		retries = *r.Download.Retries
	}
	cfg := artifact.DownloadConfig{
		ConnectTimeout: r.Download.ConnectTimeout,
		Timeout:        r.Download.Timeout,
		Retries:        retries,
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = artifact.DefaultConnectTimeout
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = artifact.DefaultTimeout
	}
	return cfg
}

// Default returns a normalized request with every default applied.
func Default() ProvisionRequest {
	var r ProvisionRequest
	r.Normalize()
	return r
}

// LoadFromFile loads a request from a YAML file, normalizes and validates it.
func LoadFromFile(path string) (ProvisionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProvisionRequest{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromYAML(data)
}

// LoadFromYAML parses a request from YAML bytes. Unknown keys are rejected.
func LoadFromYAML(data []byte) (ProvisionRequest, error) {
	var r ProvisionRequest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return ProvisionRequest{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Normalize user input before validation
	r.Normalize()

	if err := r.Validate(); err != nil {
		return ProvisionRequest{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return r, nil
}
