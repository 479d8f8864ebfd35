package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/pve"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/status"
	"github.com/jbweber/kiln/internal/storage"
)

// rollbackTimeout bounds the stop and destroy issued after a failure.
const rollbackTimeout = 2 * time.Minute

// Image is the decompressed appliance image to import.
type Image struct {
	Path    string
	Version string
	Channel release.Channel
}

// Input is everything one provisioning run needs.
type Input struct {
	Request config.ProvisionRequest // finalized
	Image   Image
	RunID   string // generated when empty
}

// Result describes a run. It is returned on failure too.
type Result struct {
	RunID       string
	VMID        int
	Name        string
	Storage     string
	Profile     storage.Profile
	Phase       status.Phase
	Warnings    []error
	RolledBack  bool
	Transitions []status.Transition
	Durations   map[status.Phase]time.Duration
}

// Orchestrator sequences the control-plane calls of a run.
type Orchestrator struct {
	cp              controlPlane
	log             logr.Logger
	rollbackTimeout time.Duration
}

// New creates an orchestrator backed by a Proxmox client.
func New(client *pve.Client, log logr.Logger) *Orchestrator {
	return newWithDeps(client, log)
}

// newWithDeps creates an orchestrator with injected dependencies.
func newWithDeps(cp controlPlane, log logr.Logger) *Orchestrator {
	return &Orchestrator{cp: cp, log: log, rollbackTimeout: rollbackTimeout}
}

// Provision runs the full sequence. On failure before the disks are
// attached the VM is destroyed before Provision returns.
func (o *Orchestrator) Provision(ctx context.Context, in Input) (res *Result, err error) {
	req := in.Request
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	tracker := status.NewTracker()
	res = &Result{RunID: runID, Name: req.Name, Storage: req.Storage, Phase: status.PhaseIdle}
	defer func() {
		res.Phase = tracker.Phase()
		res.Transitions = tracker.Transitions()
		res.Durations = tracker.Durations()
	}()

	if err := o.preflight(req, in.Image); err != nil {
		return res, err
	}

	// Step 1: Resolve the storage profile
	backend, err := o.cp.StorageType(ctx, req.Storage)
	if err != nil {
		tracker.Fail(err)
		return res, &ProvisioningError{Phase: status.PhaseIdentifierAllocated, Err: err}
	}
	profile := storage.ProfileFor(backend)
	res.Profile = profile
	o.log.Info("storage profile selected", "storage", req.Storage, "backend", backend,
		"layout", profile.Layout, "thin", profile.Thin())

	// Step 2: Allocate the ID
	vmid, err := o.allocateID(ctx, req.VMID, req.Storage)
	if err != nil {
		tracker.Fail(err)
		return res, &ProvisioningError{Phase: status.PhaseIdentifierAllocated, Err: err}
	}
	res.VMID = vmid
	o.advance(tracker, status.PhaseIdentifierAllocated, fmt.Sprintf("vmid %d", vmid))
	log := o.log.WithValues("vmid", vmid)

	// From here on the run owns vmid until the disks are attached
	defer func() {
		if r := recover(); r != nil {
			tracker.Fail(fmt.Errorf("panic: %v", r))
			if status.RequiresRollback(tracker.FailedAfter()) {
				o.rollback(ctx, vmid)
				res.RolledBack = true
			}
			panic(r)
		}
		if err == nil {
			return
		}
		tracker.Fail(err)
		if status.RequiresRollback(tracker.FailedAfter()) {
			o.rollback(ctx, vmid)
			res.RolledBack = true
		}
	}()

	// Step 3: Create the VM shell
	log.Info("creating VM", "name", req.Name)
	createOpts := pve.CreateOptions{
		Name:      req.Name,
		Machine:   req.MachineType(),
		CPU:       req.CPU(),
		Cores:     req.Cores,
		MemoryMiB: req.MemoryMiB,
		Tags:      req.Tags,
		Net: pve.NetDevice{
			Bridge: req.Network.Bridge,
			MAC:    req.Network.MAC,
			VLAN:   req.Network.VLAN,
			MTU:    req.Network.MTU,
		},
		OnBoot:     req.StartOnBoot(),
		SMBIOSUUID: runID,
	}
	if err = o.cp.CreateVM(ctx, vmid, createOpts); err != nil {
		return res, &ProvisioningError{VMID: vmid, Phase: status.PhaseShellCreated, Err: err}
	}
	o.advance(tracker, status.PhaseShellCreated, "")

	// Step 4: Import the disk
	efiName := profile.VolumeName(vmid, 0)
	log.Info("allocating EFI disk", "storage", req.Storage, "volume", efiName)
	if err = o.cp.AllocVolume(ctx, req.Storage, vmid, efiName, pve.EFIAllocSz); err != nil {
		return res, &ProvisioningError{VMID: vmid, Phase: status.PhaseDiskImported, Err: err}
	}
	log.Info("importing disk image", "path", in.Image.Path, "storage", req.Storage)
	if err = o.cp.ImportDisk(ctx, vmid, in.Image.Path, req.Storage, profile.Format); err != nil {
		return res, &ProvisioningError{VMID: vmid, Phase: status.PhaseDiskImported, Err: err}
	}
	o.advance(tracker, status.PhaseDiskImported, "")

	// Step 5: Attach the disks
	if err = o.attachDisks(ctx, log, vmid, req, profile, in, runID); err != nil {
		return res, &ProvisioningError{VMID: vmid, Phase: status.PhaseDiskAttached, Err: err}
	}
	o.advance(tracker, status.PhaseDiskAttached, "")

	// The VM is committed; later failures are warnings
	if req.USBPassthrough != "" {
		log.Info("attaching USB device", "spec", req.USBPassthrough)
		if perr := o.cp.SetVM(ctx, vmid, pve.Setting{Key: pve.USBSlot, Value: req.USBPassthrough}); perr != nil {
			log.Info("warning: USB passthrough failed", "warning", perr.Error())
			res.Warnings = append(res.Warnings, &PeripheralError{Spec: req.USBPassthrough, Err: perr})
		} else {
			o.advance(tracker, status.PhasePeripheralsAttached, req.USBPassthrough)
		}
	}

	if req.ShouldStart() {
		log.Info("starting VM")
		if serr := o.cp.StartVM(ctx, vmid); serr != nil {
			log.Info("warning: VM failed to start", "warning", serr.Error())
			res.Warnings = append(res.Warnings, &StartError{VMID: vmid, Err: serr})
		} else {
			o.advance(tracker, status.PhaseStarted, "")
		}
	}

	o.advance(tracker, status.PhaseCompleted, "")
	log.Info("VM provisioned", "name", req.Name, "warnings", len(res.Warnings))
	return res, nil
}

func (o *Orchestrator) preflight(req config.ProvisionRequest, img Image) error {
	if req.Storage == "" {
		return fmt.Errorf("no target storage selected")
	}
	if req.Name == "" || req.Network.MAC == "" {
		return fmt.Errorf("request is not finalized")
	}
	info, err := os.Stat(img.Path)
	if err != nil {
		return fmt.Errorf("image not found: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return fmt.Errorf("image %s is not a non-empty regular file", img.Path)
	}
	return nil
}

func (o *Orchestrator) attachDisks(ctx context.Context, log logr.Logger, vmid int, req config.ProvisionRequest, profile storage.Profile, in Input, runID string) error {
	efiRef := profile.DiskRef(req.Storage, vmid, 0)
	rootRef := profile.DiskRef(req.Storage, vmid, 1)

	log.Info("attaching disks", "efi", efiRef, "root", rootRef)
	err := o.cp.SetVM(ctx, vmid,
		pve.Setting{Key: pve.EFIDisk, Value: pve.EFIDiskSpec(efiRef)},
		pve.Setting{Key: pve.RootDisk, Value: pve.RootDiskSpec(rootRef, req.DiskCache, profile.ThinFlags, req.DiskSize)},
		pve.Setting{Key: "boot", Value: pve.BootOrder(pve.RootDisk)},
	)
	if err != nil {
		return err
	}

	log.Info("resizing root disk", "size", req.DiskSize)
	if err := o.cp.ResizeDisk(ctx, vmid, pve.RootDisk, req.DiskSize); err != nil {
		return err
	}

	return o.cp.SetVM(ctx, vmid, pve.Setting{Key: "description", Value: description(in.Image, runID)})
}

func description(img Image, runID string) string {
	return fmt.Sprintf("Home Assistant OS %s (%s channel), provisioned by kiln run %s", img.Version, img.Channel, runID)
}

// advance records a transition the sequence guarantees to be legal.
func (o *Orchestrator) advance(t *status.Tracker, to status.Phase, msg string) {
	if err := t.Advance(to, msg); err != nil {
		o.log.Error(err, "illegal phase transition")
	}
}

// rollback stops and destroys vmid. It runs on a context that survives
// cancellation of the run and never returns an error; failures are logged.
func (o *Orchestrator) rollback(ctx context.Context, vmid int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rollbackTimeout)
	defer cancel()

	log := o.log.WithValues("vmid", vmid)
	log.Info("rolling back failed provisioning")
	if err := o.teardown(ctx, log, vmid); err != nil {
		log.Error(err, "rollback incomplete, remove the VM manually")
	}
}

// teardown stops vmid if present and destroys it.
func (o *Orchestrator) teardown(ctx context.Context, log logr.Logger, vmid int) error {
	state, err := o.cp.VMStatus(ctx, vmid)
	if err != nil {
		log.Info("warning: failed to query VM state, destroying anyway", "warning", err.Error())
	} else if state == pve.VMStateAbsent {
		log.Info("VM does not exist, nothing to remove")
		return nil
	}

	log.Info("stopping VM")
	if err := o.cp.StopVM(ctx, vmid); err != nil {
		// Ignore error - VM might not be running
		log.Info("warning: stop failed", "warning", err.Error())
	}

	log.Info("destroying VM")
	if err := o.cp.DestroyVM(ctx, vmid); err != nil {
		return err
	}
	return nil
}

// Destroy stops and removes an existing VM.
func (o *Orchestrator) Destroy(ctx context.Context, vmid int) error {
	log := o.log.WithValues("vmid", vmid)

	state, err := o.cp.VMStatus(ctx, vmid)
	if err != nil {
		return err
	}
	if state == pve.VMStateAbsent {
		return fmt.Errorf("VM %d not found", vmid)
	}

	if state == pve.VMStateRunning {
		log.Info("stopping VM")
		if err := o.cp.StopVM(ctx, vmid); err != nil {
			return err
		}
	}

	log.Info("destroying VM")
	if err := o.cp.DestroyVM(ctx, vmid); err != nil {
		return err
	}
	log.Info("VM destroyed")
	return nil
}

// IsWarning reports whether err is one of the non-fatal outcomes recorded in
// Result.Warnings.
func IsWarning(err error) bool {
	var perr *PeripheralError
	var serr *StartError
	return errors.As(err, &perr) || errors.As(err, &serr)
}
