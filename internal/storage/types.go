package storage

import (
	"fmt"
	"strings"

	"github.com/jbweber/kiln/internal/naming"
)

// BackendType is the storage technology reported for a Proxmox storage.
type BackendType string

const (
	BackendDir     BackendType = "dir"     // Plain directory
	BackendNFS     BackendType = "nfs"     // NFS mount
	BackendCIFS    BackendType = "cifs"    // SMB/CIFS mount
	BackendBTRFS   BackendType = "btrfs"   // Copy-on-write filesystem
	BackendZFSPool BackendType = "zfspool" // ZFS pool with snapshot volumes
	BackendLVMThin BackendType = "lvmthin" // Thin LVM pool
	BackendLVM     BackendType = "lvm"     // Thick LVM volume group
	BackendRBD     BackendType = "rbd"     // Ceph RBD
)

// ParseBackendType normalizes a type string reported by the host.
func ParseBackendType(s string) BackendType {
	return BackendType(strings.ToLower(strings.TrimSpace(s)))
}

// VolumeFormat represents the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2" // QCOW2 format
	VolumeFormatRaw   VolumeFormat = "raw"   // Raw format
)

// Layout says where a VM's disk volumes live inside a storage.
type Layout string

const (
	// LayoutFlat places volumes at the storage root.
	LayoutFlat Layout = "flat"
	// LayoutPerVM places volumes in a subdirectory named after the VM ID.
	LayoutPerVM Layout = "per-vm"
)

// thinFlags is appended to the root disk's attachment options on backends
// that provision blocks on write.
const thinFlags = "discard=on,ssd=1,"

const rawExtension = ".raw"

// Profile is the addressing and import policy for one backend type.
type Profile struct {
	Backend   BackendType  `json:"backend" yaml:"backend"`
	Layout    Layout       `json:"layout" yaml:"layout"`
	Extension string       `json:"extension" yaml:"extension"`
	Format    VolumeFormat `json:"importFormat,omitempty" yaml:"importFormat,omitempty"`
	ThinFlags string       `json:"thinFlags,omitempty" yaml:"thinFlags,omitempty"`
}

// ProfileFor returns the profile for a backend type. Unknown types get the
// flat raw default.
func ProfileFor(t BackendType) Profile {
	switch t {
	case BackendDir, BackendNFS, BackendCIFS:
		return Profile{Backend: t, Layout: LayoutPerVM, Extension: rawExtension, Format: VolumeFormatRaw}
	case BackendBTRFS:
		return Profile{Backend: t, Layout: LayoutFlat, Format: VolumeFormatRaw}
	case BackendZFSPool:
		return Profile{Backend: t, Layout: LayoutFlat, Format: VolumeFormatRaw, ThinFlags: thinFlags}
	case BackendLVMThin:
		// lvmthin picks its own format on import
		return Profile{Backend: t, Layout: LayoutFlat, ThinFlags: thinFlags}
	default:
		return Profile{Backend: t, Layout: LayoutFlat, Format: VolumeFormatRaw}
	}
}

// Thin reports whether the profile enables thin provisioning flags.
func (p Profile) Thin() bool {
	return p.ThinFlags != ""
}

// VolumeName returns the bare volume name of disk index for vmid.
func (p Profile) VolumeName(vmid, index int) string {
	return naming.DiskVolumeName(vmid, index) + p.Extension
}

// DiskPath returns the volume path inside the storage.
func (p Profile) DiskPath(vmid, index int) string {
	name := p.VolumeName(vmid, index)
	if p.Layout == LayoutPerVM {
		return naming.PerVMPath(vmid, name)
	}
	return name
}

// DiskRef returns the storage-qualified volume reference used by qm.
func (p Profile) DiskRef(storage string, vmid, index int) string {
	return naming.VolumeRef(storage, p.DiskPath(vmid, index))
}

// PoolInfo describes one storage as reported by the host.
type PoolInfo struct {
	Name      string      `json:"name" yaml:"name"`
	Type      BackendType `json:"type" yaml:"type"`
	Content   []string    `json:"content,omitempty" yaml:"content,omitempty"`
	Active    bool        `json:"active" yaml:"active"`
	Shared    bool        `json:"shared" yaml:"shared"`
	Total     uint64      `json:"total" yaml:"total"`         // Total capacity in bytes
	Used      uint64      `json:"used" yaml:"used"`           // Used space in bytes
	Available uint64      `json:"available" yaml:"available"` // Available space in bytes
}

// SupportsImages reports whether the storage accepts VM disk images.
func (p *PoolInfo) SupportsImages() bool {
	for _, c := range p.Content {
		if c == "images" {
			return true
		}
	}
	return false
}

// CapacityGB returns the pool capacity in GB.
func (p *PoolInfo) CapacityGB() float64 {
	return float64(p.Total) / (1024 * 1024 * 1024)
}

// UsedGB returns the pool usage in GB.
func (p *PoolInfo) UsedGB() float64 {
	return float64(p.Used) / (1024 * 1024 * 1024)
}

// AvailableGB returns the pool available space in GB.
func (p *PoolInfo) AvailableGB() float64 {
	return float64(p.Available) / (1024 * 1024 * 1024)
}

// Profile returns the addressing profile for the pool's backend.
func (p *PoolInfo) Profile() Profile {
	return ProfileFor(p.Type)
}

// SelectDefault picks the active, image-capable pool with the most free
// space.
func SelectDefault(pools []PoolInfo) (PoolInfo, error) {
	var best *PoolInfo
	for i := range pools {
		p := &pools[i]
		if !p.Active || !p.SupportsImages() {
			continue
		}
		if best == nil || p.Available > best.Available {
			best = p
		}
	}
	if best == nil {
		return PoolInfo{}, fmt.Errorf("no active storage accepts VM disk images")
	}
	return *best, nil
}

// DefaultCacheDir is where compressed artifacts are kept between runs. It is
// the template cache of the host's local storage.
const DefaultCacheDir = "/var/lib/vz/template/cache"
