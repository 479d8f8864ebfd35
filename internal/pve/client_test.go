package pve

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/kiln/internal/storage"
)

func newTestClient(r Runner) *Client {
	return NewClient(r, "pve1", logr.Discard())
}

func TestClient_NextID(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /cluster/nextid", `"105"`+"\n", nil)

	got, err := newTestClient(r).NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 105, got)
	assert.Equal(t, []string{"pvesh get /cluster/nextid --output-format json"}, r.lines())
}

func TestClient_NextIDGarbage(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /cluster/nextid", `"abc"`, nil)

	_, err := newTestClient(r).NextID(context.Background())
	assert.Error(t, err)
}

func TestClient_ClusterGuestIDs(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /cluster/resources", `[
		{"id":"qemu/100","vmid":100,"type":"qemu","node":"pve1"},
		{"id":"lxc/101","vmid":101,"type":"lxc","node":"pve2"},
		{"id":"storage/pve1/local","type":"storage"}
	]`, nil)

	got, err := newTestClient(r).ClusterGuestIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{100, 101}, got)
	assert.Equal(t, "pvesh get /cluster/resources --type vm --output-format json", r.lines()[0])
}

func TestClient_GuestConfigExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "qemu-server"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lxc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "qemu-server", "100.conf"), []byte("cores: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lxc", "101.conf"), []byte("arch: amd64\n"), 0o644))

	c := newTestClient(newFakeRunner()).WithConfigRoot(root)

	for vmid, want := range map[int]bool{100: true, 101: true, 102: false} {
		got, err := c.GuestConfigExists(vmid)
		require.NoError(t, err)
		assert.Equal(t, want, got, vmid)
	}
}

func TestClient_LogicalVolumeNames(t *testing.T) {
	r := newFakeRunner()
	r.on("lvs", "  data\n  root\n  vm-100-disk-0\n\n", nil)

	got, err := newTestClient(r).LogicalVolumeNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "root", "vm-100-disk-0"}, got)
}

func TestClient_LogicalVolumeNamesWithoutLVM(t *testing.T) {
	r := newFakeRunner()
	r.on("lvs", "", &CommandError{Command: LVSNames(), ExitCode: -1, Err: &exec.Error{Name: "lvs", Err: exec.ErrNotFound}})

	got, err := newTestClient(r).LogicalVolumeNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_StorageContent(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /nodes/pve1/storage/local-lvm/content", `[
		{"volid":"local-lvm:vm-100-disk-0","format":"raw"},
		{"volid":"local-lvm:base-9000-disk-0","format":"raw"}
	]`, nil)

	got, err := newTestClient(r).StorageContent(context.Background(), "local-lvm")
	require.NoError(t, err)
	assert.Equal(t, []string{"local-lvm:vm-100-disk-0", "local-lvm:base-9000-disk-0"}, got)
}

func TestClient_Storages(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /nodes/pve1/storage", `[
		{"storage":"local-lvm","type":"lvmthin","content":"rootdir,images","active":1,"enabled":1,"shared":0,"total":1000,"used":250,"avail":750},
		{"storage":"nas","type":"nfs","content":"images,iso","active":1,"shared":1,"total":5000,"used":1000,"avail":4000},
		{"storage":"old","type":"dir","content":"images","active":0,"enabled":0}
	]`, nil)

	got, err := newTestClient(r).Storages(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, storage.PoolInfo{
		Name: "local-lvm", Type: storage.BackendLVMThin, Content: []string{"rootdir", "images"},
		Active: true, Total: 1000, Used: 250, Available: 750,
	}, got[0])
	assert.Equal(t, storage.BackendNFS, got[1].Type)
	assert.True(t, got[1].Shared)
	assert.Equal(t, "pvesh get /nodes/pve1/storage --content images --output-format json", r.lines()[0])
}

func TestClient_StorageType(t *testing.T) {
	r := newFakeRunner()
	r.on("pvesh get /storage/local-zfs", `{"storage":"local-zfs","type":"zfspool","pool":"rpool/data"}`, nil)
	r.on("pvesh get /storage/broken", `{}`, nil)

	c := newTestClient(r)
	got, err := c.StorageType(context.Background(), "local-zfs")
	require.NoError(t, err)
	assert.Equal(t, storage.BackendZFSPool, got)

	_, err = c.StorageType(context.Background(), "broken")
	assert.Error(t, err)
}

func TestClient_VMStatus(t *testing.T) {
	r := newFakeRunner()
	r.on("qm status 100", "status: running\n", nil)
	r.on("qm status 101", "status: stopped\n", nil)
	r.on("qm status 102", "", &CommandError{
		Command:  QMStatus(102),
		ExitCode: 2,
		Stderr:   "Configuration file 'nodes/pve1/qemu-server/102.conf' does not exist\n",
		Err:      errors.New("exit status 2"),
	})
	r.on("qm status 103", "", errors.New("timeout"))

	c := newTestClient(r)
	ctx := context.Background()

	state, err := c.VMStatus(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, VMStateRunning, state)

	state, err = c.VMStatus(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, VMStateStopped, state)

	exists, err := c.VMExists(ctx, 102)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.VMStatus(ctx, 103)
	assert.Error(t, err)
}

func TestClient_Lifecycle(t *testing.T) {
	r := newFakeRunner()
	r.on("qm", "", nil)
	r.on("pvesm", "", nil)

	c := newTestClient(r)
	ctx := context.Background()

	require.NoError(t, c.AllocVolume(ctx, "local-lvm", 100, "vm-100-disk-0", "4M"))
	require.NoError(t, c.ImportDisk(ctx, 100, "/var/tmp/kiln/x/haos_ova-17.0.qcow2", "local-lvm", ""))
	require.NoError(t, c.SetVM(ctx, 100, Setting{Key: "boot", Value: "order=scsi0"}))
	require.NoError(t, c.SetVM(ctx, 100))
	require.NoError(t, c.ResizeDisk(ctx, 100, "scsi0", "32G"))
	require.NoError(t, c.StartVM(ctx, 100))
	require.NoError(t, c.StopVM(ctx, 100))
	require.NoError(t, c.DestroyVM(ctx, 100))

	assert.Equal(t, []string{
		"pvesm alloc local-lvm 100 vm-100-disk-0 4M",
		"qm importdisk 100 /var/tmp/kiln/x/haos_ova-17.0.qcow2 local-lvm",
		"qm set 100 --boot order=scsi0",
		"qm resize 100 scsi0 32G",
		"qm start 100",
		"qm stop 100",
		"qm destroy 100 --destroy-unreferenced-disks 1 --purge 1",
	}, r.lines())
}

func TestClient_CreateVMRejectsInvalidOptions(t *testing.T) {
	r := newFakeRunner()
	err := newTestClient(r).CreateVM(context.Background(), 100, CreateOptions{Name: "bad name"})
	assert.Error(t, err)
	assert.Empty(t, r.lines(), "nothing may run for an invalid request")
}

func TestClient_RejectsInvalidStorageID(t *testing.T) {
	r := newFakeRunner()
	r.on("qm", "", nil)
	r.on("pvesm", "", nil)
	r.on("pvesh", "[]", nil)

	c := newTestClient(r)
	ctx := context.Background()
	bad := "local-lvm,size=1T"

	assert.Error(t, c.AllocVolume(ctx, bad, 100, "vm-100-disk-0", "4M"))
	assert.Error(t, c.ImportDisk(ctx, 100, "/var/tmp/kiln/x/haos.qcow2", bad, ""))
	_, err := c.StorageContent(ctx, "local/../nodes")
	assert.Error(t, err)
	_, err = c.StorageType(ctx, "9pool")
	assert.Error(t, err)
	assert.Empty(t, r.lines())
}

func TestClient_RejectsInvalidCommandBeforeRunning(t *testing.T) {
	r := newFakeRunner()
	r.on("qm", "", nil)

	err := newTestClient(r).SetVM(context.Background(), 100, Setting{Key: "description", Value: "line1\nline2"})
	assert.Error(t, err)
	assert.Empty(t, r.lines())
}

func TestClient_Version(t *testing.T) {
	r := newFakeRunner()
	r.on("pveversion", "pve-manager/8.2.4/faa83925c9641325 (running kernel: 6.8.8-2-pve)\n", nil)

	got, err := newTestClient(r).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pve-manager/8.2.4/faa83925c9641325 (running kernel: 6.8.8-2-pve)", got)
}
