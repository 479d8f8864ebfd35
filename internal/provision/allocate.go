package provision

import (
	"context"
	"fmt"

	"github.com/jbweber/kiln/internal/naming"
)

// maxIDSearch bounds how far past the suggested ID allocation searches.
const maxIDSearch = 10000

// inventory is a snapshot of everything that can claim a guest ID.
type inventory struct {
	guests  map[int]bool
	volumes []string // LV names and volume IDs on every active storage
}

func (o *Orchestrator) snapshot(ctx context.Context, storageName string) (*inventory, error) {
	ids, err := o.cp.ClusterGuestIDs(ctx)
	if err != nil {
		return nil, err
	}
	inv := &inventory{guests: make(map[int]bool, len(ids))}
	for _, id := range ids {
		inv.guests[id] = true
	}

	lvs, err := o.cp.LogicalVolumeNames(ctx)
	if err != nil {
		return nil, err
	}
	inv.volumes = append(inv.volumes, lvs...)

	names, err := o.scannedStorages(ctx, storageName)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		vols, err := o.cp.StorageContent(ctx, name)
		if err != nil {
			return nil, err
		}
		inv.volumes = append(inv.volumes, vols...)
	}
	return inv, nil
}

// scannedStorages returns the target storage followed by every other active
// storage on the node. Volumes left on any of them can claim a guest ID.
func (o *Orchestrator) scannedStorages(ctx context.Context, target string) ([]string, error) {
	pools, err := o.cp.Storages(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{target}
	seen := map[string]bool{target: true}
	for _, p := range pools {
		if !p.Active || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		names = append(names, p.Name)
	}
	return names, nil
}

// conflict returns why vmid is taken, or "" when it is free.
func (o *Orchestrator) conflict(inv *inventory, vmid int) (string, error) {
	if inv.guests[vmid] {
		return "a guest with this ID exists", nil
	}
	exists, err := o.cp.GuestConfigExists(vmid)
	if err != nil {
		return "", err
	}
	if exists {
		return "a guest config file exists", nil
	}
	if naming.NewIDMatcher(vmid).MatchAny(inv.volumes) {
		return "a storage volume embeds this ID", nil
	}
	return "", nil
}

// allocateID returns a guest ID that nothing on the host claims. A requested
// ID is checked and rejected on collision; otherwise the search starts at
// the cluster's suggestion.
func (o *Orchestrator) allocateID(ctx context.Context, requested int, storageName string) (int, error) {
	inv, err := o.snapshot(ctx, storageName)
	if err != nil {
		return 0, fmt.Errorf("failed to inventory guest IDs: %w", err)
	}

	if requested > 0 {
		why, err := o.conflict(inv, requested)
		if err != nil {
			return 0, fmt.Errorf("failed to check vmid %d: %w", requested, err)
		}
		if why != "" {
			return 0, fmt.Errorf("vmid %d is already in use: %s", requested, why)
		}
		return requested, nil
	}

	next, err := o.cp.NextID(ctx)
	if err != nil {
		return 0, err
	}
	for id := next; id < next+maxIDSearch; id++ {
		why, err := o.conflict(inv, id)
		if err != nil {
			return 0, fmt.Errorf("failed to check vmid %d: %w", id, err)
		}
		if why == "" {
			return id, nil
		}
		o.log.V(1).Info("skipping vmid", "vmid", id, "reason", why)
	}
	return 0, fmt.Errorf("no free vmid in %d..%d", next, next+maxIDSearch-1)
}
