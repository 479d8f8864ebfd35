package output

import (
	"time"

	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/status"
	"github.com/jbweber/kiln/internal/storage"
)

// ChannelStatus is one row of the channel overview.
type ChannelStatus struct {
	Channel   release.Channel `json:"channel" yaml:"channel"`
	Version   string          `json:"version,omitempty" yaml:"version,omitempty"`
	URL       string          `json:"url,omitempty" yaml:"url,omitempty"`
	Available bool            `json:"available" yaml:"available"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
	// VsStable is "newer", "older" or "same" for available non-stable
	// channels.
	VsStable string `json:"vsStable,omitempty" yaml:"vsStable,omitempty"`
}

// ChannelStatuses builds the overview from a ResolveAll outcome, in channel
// order.
func ChannelStatuses(endpoints release.Endpoints, cacheDir string, versions release.Versions, failures map[release.Channel]error) []ChannelStatus {
	out := make([]ChannelStatus, 0, len(release.Channels()))
	for _, ch := range release.Channels() {
		row := ChannelStatus{Channel: ch}
		if v, ok := versions[ch]; ok {
			row.Version = v
			row.Available = true
			if desc, err := release.NewDescriptor(endpoints, ch, v, cacheDir); err == nil {
				row.URL = desc.URL
			}
		} else if err := failures[ch]; err != nil {
			row.Error = err.Error()
		}
		if row.Available && ch != release.ChannelStable && versions.Available(release.ChannelStable) {
			row.VsStable = relation(release.Compare(row.Version, versions[release.ChannelStable]))
		}
		out = append(out, row)
	}
	return out
}

func relation(cmp int) string {
	switch {
	case cmp > 0:
		return "newer"
	case cmp < 0:
		return "older"
	default:
		return "same"
	}
}

// PoolView is a storage with the profile kiln would use on it.
type PoolView struct {
	storage.PoolInfo `yaml:",inline"`
	Profile          storage.Profile `json:"profile" yaml:"profile"`
	Default          bool            `json:"default" yaml:"default"`
}

// PoolViews pairs each pool with its profile and marks the one that would be
// selected when no storage is configured.
func PoolViews(pools []storage.PoolInfo) []PoolView {
	def, err := storage.SelectDefault(pools)
	out := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		out = append(out, PoolView{
			PoolInfo: p,
			Profile:  p.Profile(),
			Default:  err == nil && p.Name == def.Name,
		})
	}
	return out
}

// ProfileView shows how kiln addresses disks on one storage.
type ProfileView struct {
	Storage  string          `json:"storage" yaml:"storage"`
	Profile  storage.Profile `json:"profile" yaml:"profile"`
	EFIDisk  string          `json:"efiDisk" yaml:"efiDisk"`
	RootDisk string          `json:"rootDisk" yaml:"rootDisk"`
}

// NewProfileView describes the profile of storageName using vmid for the
// example disk references.
func NewProfileView(storageName string, backend storage.BackendType, vmid int) ProfileView {
	p := storage.ProfileFor(backend)
	return ProfileView{
		Storage:  storageName,
		Profile:  p,
		EFIDisk:  p.DiskRef(storageName, vmid, 0),
		RootDisk: p.DiskRef(storageName, vmid, 1),
	}
}

// RunReport summarizes a provisioning run.
type RunReport struct {
	RunID       string              `json:"runID" yaml:"runID"`
	VMID        int                 `json:"vmid,omitempty" yaml:"vmid,omitempty"`
	Name        string              `json:"name" yaml:"name"`
	Version     string              `json:"version,omitempty" yaml:"version,omitempty"`
	Channel     release.Channel     `json:"channel,omitempty" yaml:"channel,omitempty"`
	Storage     string              `json:"storage" yaml:"storage"`
	Backend     storage.BackendType `json:"backend,omitempty" yaml:"backend,omitempty"`
	Phase       status.Phase        `json:"phase" yaml:"phase"`
	RolledBack  bool                `json:"rolledBack,omitempty" yaml:"rolledBack,omitempty"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
	Warnings    []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Transitions []status.Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Elapsed     time.Duration       `json:"elapsed" yaml:"elapsed"`
}

// NewRunReport builds a report from a run result and the error it returned.
func NewRunReport(res *provision.Result, img provision.Image, runErr error) *RunReport {
	r := &RunReport{
		RunID:       res.RunID,
		VMID:        res.VMID,
		Name:        res.Name,
		Version:     img.Version,
		Channel:     img.Channel,
		Storage:     res.Storage,
		Backend:     res.Profile.Backend,
		Phase:       res.Phase,
		RolledBack:  res.RolledBack,
		Transitions: res.Transitions,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, w := range res.Warnings {
		r.Warnings = append(r.Warnings, w.Error())
	}
	for _, d := range res.Durations {
		r.Elapsed += d
	}
	return r
}
