// Package pve drives the Proxmox VE control plane through its command line
// tools (qm, pvesm, pvesh, lvs, pveversion).
//
// Every call is described by a [Command], a binary name plus an argument
// vector, which is validated and executed directly by a [Runner]. Nothing is
// ever passed through a shell, so values never need quoting.
//
// Client provides typed operations on top of a Runner:
//
//	c := pve.NewClient(pve.NewExecRunner(log), node, log)
//	id, err := c.NextID(ctx)
//	if err != nil {
//	    return err
//	}
//	err = c.CreateVM(ctx, id, pve.CreateOptions{Name: "haos-17.0", Cores: 2, MemoryMiB: 4096})
package pve
