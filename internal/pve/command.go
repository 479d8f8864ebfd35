package pve

import (
	"fmt"
	"strconv"
	"strings"
)

// Binaries the adapter is allowed to execute.
const (
	BinQM         = "qm"
	BinPVESM      = "pvesm"
	BinPVESH      = "pvesh"
	BinLVS        = "lvs"
	BinPVEVersion = "pveversion"
)

var allowedBinaries = map[string]bool{
	BinQM:         true,
	BinPVESM:      true,
	BinPVESH:      true,
	BinLVS:        true,
	BinPVEVersion: true,
}

// Command is one control-plane invocation.
type Command struct {
	Name string
	Args []string
}

// Validate rejects commands that name an unknown binary or carry arguments
// that could not have come from a well-formed request.
func (c Command) Validate() error {
	if !allowedBinaries[c.Name] {
		return fmt.Errorf("command %q is not allowed", c.Name)
	}
	for i, a := range c.Args {
		if a == "" {
			return fmt.Errorf("%s: argument %d is empty", c.Name, i)
		}
		if strings.ContainsAny(a, "\x00\n\r") {
			return fmt.Errorf("%s: argument %d contains a control character", c.Name, i)
		}
	}
	return nil
}

// String renders the command for logs. Arguments containing spaces are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Setting is one --key value pair of a qm create or qm set call.
type Setting struct {
	Key   string
	Value string
}

func settingArgs(settings []Setting) []string {
	args := make([]string, 0, len(settings)*2)
	for _, s := range settings {
		args = append(args, "--"+s.Key, s.Value)
	}
	return args
}

func id(vmid int) string {
	return strconv.Itoa(vmid)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// QMCreate builds `qm create <vmid> --key value ...`.
func QMCreate(vmid int, settings []Setting) Command {
	return Command{Name: BinQM, Args: append([]string{"create", id(vmid)}, settingArgs(settings)...)}
}

// QMSet builds `qm set <vmid> --key value ...`.
func QMSet(vmid int, settings ...Setting) Command {
	return Command{Name: BinQM, Args: append([]string{"set", id(vmid)}, settingArgs(settings)...)}
}

// QMImportDisk builds `qm importdisk <vmid> <image> <storage> [--format <f>]`.
func QMImportDisk(vmid int, image, storage, format string) Command {
	args := []string{"importdisk", id(vmid), image, storage}
	if format != "" {
		args = append(args, "--format", format)
	}
	return Command{Name: BinQM, Args: args}
}

// QMResize builds `qm resize <vmid> <disk> <size>`.
func QMResize(vmid int, disk, size string) Command {
	return Command{Name: BinQM, Args: []string{"resize", id(vmid), disk, size}}
}

// QMStart builds `qm start <vmid>`.
func QMStart(vmid int) Command {
	return Command{Name: BinQM, Args: []string{"start", id(vmid)}}
}

// QMStop builds `qm stop <vmid>`.
func QMStop(vmid int) Command {
	return Command{Name: BinQM, Args: []string{"stop", id(vmid)}}
}

// QMStatus builds `qm status <vmid>`.
func QMStatus(vmid int) Command {
	return Command{Name: BinQM, Args: []string{"status", id(vmid)}}
}

// QMDestroy builds `qm destroy <vmid>` removing unreferenced disks and
// purging the ID from backup and replication jobs.
func QMDestroy(vmid int) Command {
	return Command{Name: BinQM, Args: []string{
		"destroy", id(vmid),
		"--destroy-unreferenced-disks", "1",
		"--purge", "1",
	}}
}

// PVESMAlloc builds `pvesm alloc <storage> <vmid> <name> <size>`.
func PVESMAlloc(storage string, vmid int, name, size string) Command {
	return Command{Name: BinPVESM, Args: []string{"alloc", storage, id(vmid), name, size}}
}

// PVESHGet builds `pvesh get <path> [--key value ...] --output-format json`.
func PVESHGet(path string, params ...Setting) Command {
	args := append([]string{"get", path}, settingArgs(params)...)
	return Command{Name: BinPVESH, Args: append(args, "--output-format", "json")}
}

// LVSNames builds `lvs --noheadings -o lv_name`.
func LVSNames() Command {
	return Command{Name: BinLVS, Args: []string{"--noheadings", "-o", "lv_name"}}
}

// PVEVersion builds `pveversion`.
func PVEVersion() Command {
	return Command{Name: BinPVEVersion}
}
