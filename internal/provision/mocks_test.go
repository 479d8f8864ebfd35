package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jbweber/kiln/internal/pve"
	"github.com/jbweber/kiln/internal/storage"
)

// mockControlPlane is a mock implementation of the controlPlane interface for testing.
type mockControlPlane struct {
	mu sync.Mutex

	// Configurable behavior
	nextIDFunc             func(ctx context.Context) (int, error)
	clusterGuestIDsFunc    func(ctx context.Context) ([]int, error)
	guestConfigExistsFunc  func(vmid int) (bool, error)
	logicalVolumeNamesFunc func(ctx context.Context) ([]string, error)
	storagesFunc           func(ctx context.Context) ([]storage.PoolInfo, error)
	storageContentFunc     func(ctx context.Context, storageName string) ([]string, error)
	storageTypeFunc        func(ctx context.Context, storageName string) (storage.BackendType, error)
	createVMFunc           func(ctx context.Context, vmid int, opts pve.CreateOptions) error
	allocVolumeFunc        func(ctx context.Context, storageName string, vmid int, name, size string) error
	importDiskFunc         func(ctx context.Context, vmid int, image, storageName string, format storage.VolumeFormat) error
	setVMFunc              func(ctx context.Context, vmid int, settings ...pve.Setting) error
	resizeDiskFunc         func(ctx context.Context, vmid int, disk, size string) error
	startVMFunc            func(ctx context.Context, vmid int) error
	stopVMFunc             func(ctx context.Context, vmid int) error
	destroyVMFunc          func(ctx context.Context, vmid int) error
	vmStatusFunc           func(ctx context.Context, vmid int) (pve.VMState, error)

	// Call tracking, in order, rendered as short strings
	calls        []string
	createVMOpts []pve.CreateOptions
	setVMCalls   [][]pve.Setting
	stopCtxErrs  []error
}

// newMockControlPlane creates a mock whose operations all succeed. The
// cluster suggests ID 100 and nothing is in use.
func newMockControlPlane() *mockControlPlane {
	m := &mockControlPlane{}

	m.nextIDFunc = func(ctx context.Context) (int, error) { return 100, nil }
	m.clusterGuestIDsFunc = func(ctx context.Context) ([]int, error) { return nil, nil }
	m.guestConfigExistsFunc = func(vmid int) (bool, error) { return false, nil }
	m.logicalVolumeNamesFunc = func(ctx context.Context) ([]string, error) { return nil, nil }
	m.storagesFunc = func(ctx context.Context) ([]storage.PoolInfo, error) {
		return []storage.PoolInfo{{Name: "local-lvm", Type: storage.BackendLVMThin, Active: true}}, nil
	}
	m.storageContentFunc = func(ctx context.Context, storageName string) ([]string, error) { return nil, nil }
	m.storageTypeFunc = func(ctx context.Context, storageName string) (storage.BackendType, error) {
		return storage.BackendLVMThin, nil
	}
	m.createVMFunc = func(ctx context.Context, vmid int, opts pve.CreateOptions) error { return nil }
	m.allocVolumeFunc = func(ctx context.Context, storageName string, vmid int, name, size string) error { return nil }
	m.importDiskFunc = func(ctx context.Context, vmid int, image, storageName string, format storage.VolumeFormat) error {
		return nil
	}
	m.setVMFunc = func(ctx context.Context, vmid int, settings ...pve.Setting) error { return nil }
	m.resizeDiskFunc = func(ctx context.Context, vmid int, disk, size string) error { return nil }
	m.startVMFunc = func(ctx context.Context, vmid int) error { return nil }
	m.stopVMFunc = func(ctx context.Context, vmid int) error { return nil }
	m.destroyVMFunc = func(ctx context.Context, vmid int) error { return nil }

	// Default: the VM exists once it has been created and disappears when destroyed
	m.vmStatusFunc = func(ctx context.Context, vmid int) (pve.VMState, error) {
		created, destroyed := false, false
		for _, c := range m.calls {
			if c == fmt.Sprintf("create %d", vmid) {
				created = true
			}
			if c == fmt.Sprintf("destroy %d", vmid) {
				destroyed = true
			}
		}
		if created && !destroyed {
			return pve.VMStateStopped, nil
		}
		return pve.VMStateAbsent, nil
	}

	return m
}

func (m *mockControlPlane) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockControlPlane) NextID(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("nextid")
	return m.nextIDFunc(ctx)
}

func (m *mockControlPlane) ClusterGuestIDs(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("guests")
	return m.clusterGuestIDsFunc(ctx)
}

func (m *mockControlPlane) GuestConfigExists(vmid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guestConfigExistsFunc(vmid)
}

func (m *mockControlPlane) LogicalVolumeNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("lvs")
	return m.logicalVolumeNamesFunc(ctx)
}

func (m *mockControlPlane) Storages(ctx context.Context) ([]storage.PoolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("storages")
	return m.storagesFunc(ctx)
}

func (m *mockControlPlane) StorageContent(ctx context.Context, storageName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("content %s", storageName)
	return m.storageContentFunc(ctx, storageName)
}

func (m *mockControlPlane) StorageType(ctx context.Context, storageName string) (storage.BackendType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("storagetype %s", storageName)
	return m.storageTypeFunc(ctx, storageName)
}

func (m *mockControlPlane) CreateVM(ctx context.Context, vmid int, opts pve.CreateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create %d", vmid)
	m.createVMOpts = append(m.createVMOpts, opts)
	return m.createVMFunc(ctx, vmid, opts)
}

func (m *mockControlPlane) AllocVolume(ctx context.Context, storageName string, vmid int, name, size string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("alloc %s %d %s %s", storageName, vmid, name, size)
	return m.allocVolumeFunc(ctx, storageName, vmid, name, size)
}

func (m *mockControlPlane) ImportDisk(ctx context.Context, vmid int, image, storageName string, format storage.VolumeFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("importdisk %d %s format=%s", vmid, storageName, format)
	return m.importDiskFunc(ctx, vmid, image, storageName, format)
}

func (m *mockControlPlane) SetVM(ctx context.Context, vmid int, settings ...pve.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.Key
	}
	m.record("set %d %s", vmid, strings.Join(keys, ","))
	m.setVMCalls = append(m.setVMCalls, settings)
	return m.setVMFunc(ctx, vmid, settings...)
}

func (m *mockControlPlane) ResizeDisk(ctx context.Context, vmid int, disk, size string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("resize %d %s %s", vmid, disk, size)
	return m.resizeDiskFunc(ctx, vmid, disk, size)
}

func (m *mockControlPlane) StartVM(ctx context.Context, vmid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start %d", vmid)
	return m.startVMFunc(ctx, vmid)
}

func (m *mockControlPlane) StopVM(ctx context.Context, vmid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop %d", vmid)
	m.stopCtxErrs = append(m.stopCtxErrs, ctx.Err())
	return m.stopVMFunc(ctx, vmid)
}

func (m *mockControlPlane) DestroyVM(ctx context.Context, vmid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("destroy %d", vmid)
	return m.destroyVMFunc(ctx, vmid)
}

func (m *mockControlPlane) VMStatus(ctx context.Context, vmid int) (pve.VMState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("status %d", vmid)
	return m.vmStatusFunc(ctx, vmid)
}

// callsWithPrefix returns the recorded calls starting with prefix.
func (m *mockControlPlane) callsWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// settingValue returns the value of key in the n-th SetVM call.
func (m *mockControlPlane) settingValue(n int, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n >= len(m.setVMCalls) {
		return ""
	}
	for _, s := range m.setVMCalls[n] {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
