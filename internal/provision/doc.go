// Package provision turns a decompressed appliance image into a configured
// Proxmox VM.
//
// The sequence is linear: allocate an ID, create the VM shell, import the
// disk, attach it, then optionally pass through a USB device and start the
// VM. The run owns the allocated ID until the disks are attached; any
// failure before that point stops and destroys the VM so that no
// half-configured guest is left occupying the ID. Failures after the disks
// are attached are reported as warnings and the VM is kept.
package provision
