// Package storage maps Proxmox storage backends to the conventions used when
// placing a VM's disks on them.
//
// Every storage reports a backend type (dir, nfs, zfspool, lvmthin, ...).
// The type decides how a disk volume is addressed and which flags are passed
// when importing and attaching it:
//
//	dir, nfs, cifs  <storage>:<vmid>/vm-<vmid>-disk-<n>.raw   --format raw
//	btrfs           <storage>:vm-<vmid>-disk-<n>              --format raw
//	zfspool         <storage>:vm-<vmid>-disk-<n>              --format raw  discard=on,ssd=1
//	lvmthin         <storage>:vm-<vmid>-disk-<n>                            discard=on,ssd=1
//	anything else   <storage>:vm-<vmid>-disk-<n>              --format raw
//
// [ProfileFor] is a pure lookup and never fails; unknown types get the
// conservative default in the last row.
//
// The package also validates decompressed images by magic bytes so that a
// file which is neither qcow2 nor a bootable raw disk is never imported.
package storage
