package provision

import (
	"context"

	"github.com/jbweber/kiln/internal/pve"
	"github.com/jbweber/kiln/internal/storage"
)

// controlPlane defines the host operations needed to provision a VM.
//
// In production, this is satisfied by *pve.Client.
// In tests, this is satisfied by mock implementations.
type controlPlane interface {
	// NextID returns the cluster's suggested next free guest ID
	NextID(ctx context.Context) (int, error)

	// ClusterGuestIDs lists the IDs of all VMs and containers
	ClusterGuestIDs(ctx context.Context) ([]int, error)

	// GuestConfigExists checks for a VM or container config file
	GuestConfigExists(vmid int) (bool, error)

	// LogicalVolumeNames lists LVM logical volumes on the host
	LogicalVolumeNames(ctx context.Context) ([]string, error)

	// Storages lists the enabled storages that hold VM images
	Storages(ctx context.Context) ([]storage.PoolInfo, error)

	// StorageContent lists the volume IDs on a storage
	StorageContent(ctx context.Context, storageName string) ([]string, error)

	// StorageType returns a storage's backend type
	StorageType(ctx context.Context, storageName string) (storage.BackendType, error)

	// CreateVM creates a VM shell without disks
	CreateVM(ctx context.Context, vmid int, opts pve.CreateOptions) error

	// AllocVolume allocates a named volume
	AllocVolume(ctx context.Context, storageName string, vmid int, name, size string) error

	// ImportDisk imports an image file as an unused disk
	ImportDisk(ctx context.Context, vmid int, image, storageName string, format storage.VolumeFormat) error

	// SetVM applies settings to a VM
	SetVM(ctx context.Context, vmid int, settings ...pve.Setting) error

	// ResizeDisk grows a disk
	ResizeDisk(ctx context.Context, vmid int, disk, size string) error

	// StartVM starts a VM
	StartVM(ctx context.Context, vmid int) error

	// StopVM stops a VM immediately
	StopVM(ctx context.Context, vmid int) error

	// DestroyVM removes a VM and its disks
	DestroyVM(ctx context.Context, vmid int) error

	// VMStatus returns a VM's power state, or VMStateAbsent
	VMStatus(ctx context.Context, vmid int) (pve.VMState, error)
}

var _ controlPlane = (*pve.Client)(nil)
