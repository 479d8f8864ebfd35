package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/status"
	"github.com/jbweber/kiln/internal/storage"
)

func testChannels() []ChannelStatus {
	versions := release.Versions{
		release.ChannelStable: "16.3",
		release.ChannelBeta:   "17.0.rc1",
	}
	failures := map[release.Channel]error{
		release.ChannelDev: errors.New("dev metadata unreachable"),
	}
	return ChannelStatuses(release.DefaultEndpoints(), storage.DefaultCacheDir, versions, failures)
}

func testPools() []PoolView {
	return PoolViews([]storage.PoolInfo{
		{Name: "local", Type: storage.BackendDir, Content: []string{"iso", "images"}, Active: true, Total: 100 << 30, Available: 20 << 30},
		{Name: "local-lvm", Type: storage.BackendLVMThin, Content: []string{"images"}, Active: true, Total: 400 << 30, Available: 300 << 30},
		{Name: "backup", Type: storage.BackendNFS, Content: []string{"backup"}, Active: true, Total: 1 << 40, Available: 1 << 40},
	})
}

func testReport() *RunReport {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &provision.Result{
		RunID:      "run-1",
		VMID:       104,
		Name:       "haos-16.3",
		Storage:    "local-lvm",
		Profile:    storage.ProfileFor(storage.BackendLVMThin),
		Phase:      status.PhaseCompleted,
		Warnings:   []error{&provision.StartError{VMID: 104, Err: errors.New("timeout")}},
		RolledBack: false,
		Transitions: []status.Transition{
			{From: status.PhaseIdle, To: status.PhaseIdentifierAllocated, At: at, Message: "vmid 104"},
			{From: status.PhaseIdentifierAllocated, To: status.PhaseShellCreated, At: at.Add(time.Second)},
		},
		Durations: map[status.Phase]time.Duration{
			status.PhaseIdentifierAllocated: time.Second,
			status.PhaseShellCreated:        2 * time.Second,
		},
	}
	img := provision.Image{Version: "16.3", Channel: release.ChannelStable}
	return NewRunReport(res, img, nil)
}

func TestChannelStatuses(t *testing.T) {
	channels := testChannels()
	if len(channels) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(channels))
	}

	stable := channels[0]
	if stable.Channel != release.ChannelStable || !stable.Available || stable.Version != "16.3" {
		t.Errorf("unexpected stable row: %+v", stable)
	}
	if !strings.Contains(stable.URL, "16.3") {
		t.Errorf("stable URL should embed the version, got %q", stable.URL)
	}

	if channels[1].VsStable != "newer" {
		t.Errorf("beta 17.0.rc1 should be newer than stable 16.3, got %q", channels[1].VsStable)
	}
	if stable.VsStable != "" {
		t.Errorf("stable should not compare to itself, got %q", stable.VsStable)
	}

	dev := channels[2]
	if dev.Available || dev.Error != "dev metadata unreachable" || dev.URL != "" {
		t.Errorf("unexpected dev row: %+v", dev)
	}
}

func TestPoolViews(t *testing.T) {
	pools := testPools()

	var defaults []string
	for _, p := range pools {
		if p.Default {
			defaults = append(defaults, p.Name)
		}
	}
	// backup has the most space but does not accept images
	if len(defaults) != 1 || defaults[0] != "local-lvm" {
		t.Errorf("expected local-lvm to be the default, got %v", defaults)
	}
	if !pools[1].Profile.Thin() {
		t.Error("lvmthin profile should be thin")
	}
	if pools[0].Profile.Layout != storage.LayoutPerVM {
		t.Errorf("dir layout = %s, want per-vm", pools[0].Profile.Layout)
	}
}

func TestTableFormatter_FormatChannels(t *testing.T) {
	out, err := (&TableFormatter{}).FormatChannels(testChannels())
	if err != nil {
		t.Fatalf("FormatChannels() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "CHANNEL") {
		t.Errorf("missing header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "16.3") || !strings.Contains(lines[1], "yes") {
		t.Errorf("unexpected stable row: %q", lines[1])
	}
	if !strings.Contains(lines[3], "no") || !strings.Contains(lines[3], "unreachable") {
		t.Errorf("unexpected dev row: %q", lines[3])
	}
}

func TestTableFormatter_NoHeaders(t *testing.T) {
	out, err := (&TableFormatter{NoHeaders: true}).FormatChannels(testChannels())
	if err != nil {
		t.Fatalf("FormatChannels() error = %v", err)
	}
	if strings.Contains(out, "CHANNEL") {
		t.Errorf("header should be omitted:\n%s", out)
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	f := &TableFormatter{}

	out, err := f.FormatPools(nil)
	if err != nil {
		t.Fatalf("FormatPools() error = %v", err)
	}
	if out != "No storages found\n" {
		t.Errorf("unexpected empty pools output: %q", out)
	}

	out, err = f.FormatChannels(nil)
	if err != nil {
		t.Fatalf("FormatChannels() error = %v", err)
	}
	if out != "No channels resolved\n" {
		t.Errorf("unexpected empty channels output: %q", out)
	}
}

func TestTableFormatter_FormatPools(t *testing.T) {
	out, err := (&TableFormatter{}).FormatPools(testPools())
	if err != nil {
		t.Fatalf("FormatPools() error = %v", err)
	}

	for _, want := range []string{"NAME", "local-lvm", "lvmthin", "300 GiB", "per-vm", "*"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableFormatter_FormatRun(t *testing.T) {
	out, err := (&TableFormatter{}).FormatRun(testReport())
	if err != nil {
		t.Fatalf("FormatRun() error = %v", err)
	}

	for _, want := range []string{"run-1", "104 (haos-16.3)", "16.3 (stable)", "local-lvm (lvmthin)", "Completed", "Warning:", "failed to start", "Elapsed:", "3s", "IdentifierAllocated", "vmid 104"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Rolled back") {
		t.Error("rollback line is only shown for failed runs")
	}
}

func TestTableFormatter_FormatRunFailed(t *testing.T) {
	res := &provision.Result{RunID: "run-2", Storage: "local", Phase: status.PhaseFailed, RolledBack: true}
	report := NewRunReport(res, provision.Image{}, errors.New("qm create failed"))

	out, err := (&TableFormatter{}).FormatRun(report)
	if err != nil {
		t.Fatalf("FormatRun() error = %v", err)
	}
	for _, want := range []string{"Rolled back:  yes", "Error:", "qm create failed", "VM:           - (-)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableFormatter_FormatProfile(t *testing.T) {
	tests := []struct {
		name    string
		storage string
		backend storage.BackendType
		want    []string
	}{
		{
			name:    "dir",
			storage: "local",
			backend: storage.BackendDir,
			want:    []string{"per-vm", ".raw", "local:100/vm-100-disk-0.raw", "local:100/vm-100-disk-1.raw"},
		},
		{
			name:    "lvmthin",
			storage: "local-lvm",
			backend: storage.BackendLVMThin,
			want:    []string{"flat", "discard=on,ssd=1,", "local-lvm:vm-100-disk-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := (&TableFormatter{}).FormatProfile(NewProfileView(tt.storage, tt.backend, 100))
			if err != nil {
				t.Fatalf("FormatProfile() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestJSONFormatter_FormatProfile(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatProfile(NewProfileView("tank", storage.BackendZFSPool, 100))
	if err != nil {
		t.Fatalf("FormatProfile() error = %v", err)
	}
	var view ProfileView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if view.Profile.Format != storage.VolumeFormatRaw || !view.Profile.Thin() || view.RootDisk != "tank:vm-100-disk-1" {
		t.Errorf("unexpected profile view: %+v", view)
	}
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatChannels(testChannels())
	if err != nil {
		t.Fatalf("FormatChannels() error = %v", err)
	}
	var channels []ChannelStatus
	if err := json.Unmarshal([]byte(out), &channels); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(channels) != 3 || channels[1].Version != "17.0.rc1" {
		t.Errorf("unexpected channels: %+v", channels)
	}

	out, err = f.FormatPools(testPools())
	if err != nil {
		t.Fatalf("FormatPools() error = %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	// Pool fields are flattened next to the profile
	if raw[1]["name"] != "local-lvm" || raw[1]["default"] != true {
		t.Errorf("unexpected pool object: %v", raw[1])
	}
	if _, ok := raw[1]["profile"].(map[string]any); !ok {
		t.Errorf("expected nested profile object, got %v", raw[1]["profile"])
	}

	out, err = f.FormatPools(nil)
	if err != nil || out != "[]\n" {
		t.Errorf("FormatPools(nil) = %q, %v", out, err)
	}
}

func TestJSONFormatter_FormatRun(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatRun(testReport())
	if err != nil {
		t.Fatalf("FormatRun() error = %v", err)
	}
	var report RunReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if report.VMID != 104 || report.Phase != status.PhaseCompleted || len(report.Warnings) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestYAMLFormatter(t *testing.T) {
	f := &YAMLFormatter{}

	out, err := f.FormatPools(testPools())
	if err != nil {
		t.Fatalf("FormatPools() error = %v", err)
	}
	var raw []map[string]any
	if err := yaml.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(raw) != 3 || raw[0]["name"] != "local" {
		t.Errorf("unexpected pools: %v", raw)
	}

	out, err = f.FormatChannels(nil)
	if err != nil || out != "" {
		t.Errorf("FormatChannels(nil) = %q, %v", out, err)
	}

	out, err = f.FormatRun(testReport())
	if err != nil {
		t.Fatalf("FormatRun() error = %v", err)
	}
	if !strings.Contains(out, "phase: Completed") || !strings.Contains(out, "runID: run-1") {
		t.Errorf("unexpected run YAML:\n%s", out)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  Format
		wantErr bool
	}{
		{FormatTable, false},
		{FormatYAML, false},
		{FormatJSON, false},
		{Format("xml"), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(Options{Format: tt.format})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && f == nil {
				t.Error("expected formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, ok := range []string{"table", "yaml", "json"} {
		if err := ValidateFormat(ok); err != nil {
			t.Errorf("ValidateFormat(%q) error = %v", ok, err)
		}
	}
	if err := ValidateFormat("csv"); err == nil {
		t.Error("ValidateFormat(csv) should fail")
	}
}
