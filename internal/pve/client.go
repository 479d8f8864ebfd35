package pve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/jbweber/kiln/internal/storage"
)

// DefaultConfigRoot is the mount point of the cluster configuration
// filesystem.
const DefaultConfigRoot = "/etc/pve"

// Client issues typed control-plane operations for one node.
type Client struct {
	runner     Runner
	node       string
	configRoot string
	log        logr.Logger
}

// NewClient creates a client for node. An empty node means the local host.
func NewClient(runner Runner, node string, log logr.Logger) *Client {
	if node == "" {
		node, _ = os.Hostname()
		node, _, _ = strings.Cut(node, ".")
	}
	return &Client{runner: runner, node: node, configRoot: DefaultConfigRoot, log: log}
}

// WithConfigRoot returns a copy of c that reads guest configs below root.
func (c *Client) WithConfigRoot(root string) *Client {
	cp := *c
	cp.configRoot = root
	return &cp
}

// Node returns the node name used in API paths.
func (c *Client) Node() string {
	return c.node
}

func (c *Client) run(ctx context.Context, cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	c.log.V(1).Info("exec", "command", cmd.String())
	return c.runner.Run(ctx, cmd)
}

func (c *Client) getJSON(ctx context.Context, out any, path string, params ...Setting) error {
	data, err := c.run(ctx, PVESHGet(path, params...))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// NextID asks the cluster for the next free guest ID.
func (c *Client) NextID(ctx context.Context) (int, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, &raw, "/cluster/nextid"); err != nil {
		return 0, fmt.Errorf("failed to query next ID: %w", err)
	}
	// pvesh prints the ID as a JSON string
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unexpected next ID %q", s)
	}
	return n, nil
}

type clusterResource struct {
	VMID int    `json:"vmid"`
	Type string `json:"type"`
}

// ClusterGuestIDs returns the IDs of every VM and container in the cluster.
func (c *Client) ClusterGuestIDs(ctx context.Context) ([]int, error) {
	var resources []clusterResource
	if err := c.getJSON(ctx, &resources, "/cluster/resources", Setting{Key: "type", Value: "vm"}); err != nil {
		return nil, fmt.Errorf("failed to list cluster guests: %w", err)
	}
	ids := make([]int, 0, len(resources))
	for _, r := range resources {
		if r.Type == "qemu" || r.Type == "lxc" {
			ids = append(ids, r.VMID)
		}
	}
	return ids, nil
}

// GuestConfigExists reports whether a VM or container config file exists
// for vmid.
func (c *Client) GuestConfigExists(vmid int) (bool, error) {
	for _, dir := range []string{"qemu-server", "lxc"} {
		path := filepath.Join(c.configRoot, dir, id(vmid)+".conf")
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return false, nil
}

// LogicalVolumeNames lists LVM logical volumes on the host. Hosts without
// LVM tooling return an empty list.
func (c *Client) LogicalVolumeNames(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, LVSNames())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list logical volumes: %w", err)
	}
	return splitLines(out), nil
}

type contentEntry struct {
	VolID string `json:"volid"`
}

// StorageContent returns the volume IDs stored on a storage.
func (c *Client) StorageContent(ctx context.Context, storageName string) ([]string, error) {
	if err := ValidateStorageID(storageName); err != nil {
		return nil, err
	}
	var entries []contentEntry
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", c.node, storageName)
	if err := c.getJSON(ctx, &entries, path); err != nil {
		return nil, fmt.Errorf("failed to list content of %s: %w", storageName, err)
	}
	vols := make([]string, 0, len(entries))
	for _, e := range entries {
		vols = append(vols, e.VolID)
	}
	return vols, nil
}

type storageStatus struct {
	Storage string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Active  int    `json:"active"`
	Enabled *int   `json:"enabled"`
	Shared  int    `json:"shared"`
	Total   uint64 `json:"total"`
	Used    uint64 `json:"used"`
	Avail   uint64 `json:"avail"`
}

// Storages lists the node's storages that accept VM disk images.
func (c *Client) Storages(ctx context.Context) ([]storage.PoolInfo, error) {
	var statuses []storageStatus
	path := fmt.Sprintf("/nodes/%s/storage", c.node)
	if err := c.getJSON(ctx, &statuses, path, Setting{Key: "content", Value: "images"}); err != nil {
		return nil, fmt.Errorf("failed to list storages: %w", err)
	}

	pools := make([]storage.PoolInfo, 0, len(statuses))
	for _, s := range statuses {
		if s.Enabled != nil && *s.Enabled == 0 {
			continue
		}
		var content []string
		if s.Content != "" {
			content = strings.Split(s.Content, ",")
		}
		pools = append(pools, storage.PoolInfo{
			Name:      s.Storage,
			Type:      storage.ParseBackendType(s.Type),
			Content:   content,
			Active:    s.Active == 1,
			Shared:    s.Shared == 1,
			Total:     s.Total,
			Used:      s.Used,
			Available: s.Avail,
		})
	}
	return pools, nil
}

// StorageType returns the backend type of a configured storage.
func (c *Client) StorageType(ctx context.Context, storageName string) (storage.BackendType, error) {
	var cfg struct {
		Type string `json:"type"`
	}
	if err := ValidateStorageID(storageName); err != nil {
		return "", err
	}
	if err := c.getJSON(ctx, &cfg, "/storage/"+storageName); err != nil {
		return "", fmt.Errorf("failed to read storage %s: %w", storageName, err)
	}
	if cfg.Type == "" {
		return "", fmt.Errorf("storage %s reports no type", storageName)
	}
	return storage.ParseBackendType(cfg.Type), nil
}

// CreateVM creates a VM shell with no disks.
func (c *Client) CreateVM(ctx context.Context, vmid int, opts CreateOptions) error {
	settings, err := opts.settings()
	if err != nil {
		return err
	}
	if _, err := c.run(ctx, QMCreate(vmid, settings)); err != nil {
		return fmt.Errorf("failed to create VM %d: %w", vmid, err)
	}
	return nil
}

// AllocVolume allocates a named volume of size on a storage.
func (c *Client) AllocVolume(ctx context.Context, storageName string, vmid int, name, size string) error {
	if err := ValidateStorageID(storageName); err != nil {
		return err
	}
	if _, err := c.run(ctx, PVESMAlloc(storageName, vmid, name, size)); err != nil {
		return fmt.Errorf("failed to allocate %s on %s: %w", name, storageName, err)
	}
	return nil
}

// ImportDisk imports an image file as an unused disk of vmid. An empty
// format leaves the choice to the storage.
func (c *Client) ImportDisk(ctx context.Context, vmid int, image, storageName string, format storage.VolumeFormat) error {
	if err := ValidateStorageID(storageName); err != nil {
		return err
	}
	if _, err := c.run(ctx, QMImportDisk(vmid, image, storageName, string(format))); err != nil {
		return fmt.Errorf("failed to import %s into %s: %w", filepath.Base(image), storageName, err)
	}
	return nil
}

// SetVM applies settings to an existing VM.
func (c *Client) SetVM(ctx context.Context, vmid int, settings ...Setting) error {
	if len(settings) == 0 {
		return nil
	}
	if _, err := c.run(ctx, QMSet(vmid, settings...)); err != nil {
		return fmt.Errorf("failed to configure VM %d: %w", vmid, err)
	}
	return nil
}

// ResizeDisk grows disk to size.
func (c *Client) ResizeDisk(ctx context.Context, vmid int, disk, size string) error {
	if _, err := c.run(ctx, QMResize(vmid, disk, size)); err != nil {
		return fmt.Errorf("failed to resize %s of VM %d: %w", disk, vmid, err)
	}
	return nil
}

// StartVM starts a VM.
func (c *Client) StartVM(ctx context.Context, vmid int) error {
	if _, err := c.run(ctx, QMStart(vmid)); err != nil {
		return fmt.Errorf("failed to start VM %d: %w", vmid, err)
	}
	return nil
}

// StopVM stops a VM immediately.
func (c *Client) StopVM(ctx context.Context, vmid int) error {
	if _, err := c.run(ctx, QMStop(vmid)); err != nil {
		return fmt.Errorf("failed to stop VM %d: %w", vmid, err)
	}
	return nil
}

// DestroyVM removes a VM and all of its disks.
func (c *Client) DestroyVM(ctx context.Context, vmid int) error {
	if _, err := c.run(ctx, QMDestroy(vmid)); err != nil {
		return fmt.Errorf("failed to destroy VM %d: %w", vmid, err)
	}
	return nil
}

// VMState is the power state reported by qm status.
type VMState string

const (
	VMStateRunning VMState = "running"
	VMStateStopped VMState = "stopped"
	VMStateAbsent  VMState = ""
)

// VMStatus returns the state of vmid, or VMStateAbsent when no such VM
// exists.
func (c *Client) VMStatus(ctx context.Context, vmid int) (VMState, error) {
	out, err := c.run(ctx, QMStatus(vmid))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "does not exist") {
			return VMStateAbsent, nil
		}
		return "", fmt.Errorf("failed to query VM %d: %w", vmid, err)
	}
	// output: "status: running"
	_, state, ok := strings.Cut(strings.TrimSpace(string(out)), ":")
	if !ok {
		return "", fmt.Errorf("unexpected qm status output %q", strings.TrimSpace(string(out)))
	}
	return VMState(strings.TrimSpace(state)), nil
}

// VMExists reports whether vmid is a VM on this node.
func (c *Client) VMExists(ctx context.Context, vmid int) (bool, error) {
	state, err := c.VMStatus(ctx, vmid)
	if err != nil {
		return false, err
	}
	return state != VMStateAbsent, nil
}

// Version returns the pve-manager version line.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, PVEVersion())
	if err != nil {
		return "", fmt.Errorf("failed to query Proxmox VE version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func splitLines(out []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
