package pve

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Fixed attributes of every appliance VM.
const (
	OSType     = "l26"
	SCSIHW     = "virtio-scsi-pci"
	BIOS       = "ovmf"
	NetModel   = "virtio"
	EFIType    = "4m"
	RootDisk   = "scsi0"
	EFIDisk    = "efidisk0"
	USBSlot    = "usb0"
	NetSlot    = "net0"
	EFIAllocSz = "4M"
)

// dnsName matches what qm accepts for --name.
var dnsName = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

// bridgeName matches a Linux interface name.
var bridgeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,14}$`)

// storageID matches a storage identifier.
var storageID = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// ValidateStorageID rejects storage names that could not be embedded in a
// volume reference or option string unchanged.
func ValidateStorageID(name string) error {
	if !storageID.MatchString(name) {
		return fmt.Errorf("invalid storage ID %q", name)
	}
	return nil
}

// tagPattern matches a single guest tag.
var tagPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_+.-]*$`)

// NetDevice is the VM's single network interface.
type NetDevice struct {
	Bridge string
	MAC    string
	VLAN   int // 0 means untagged
	MTU    int // 0 means bridge default
}

// String renders the device in qm's net0 syntax.
func (n NetDevice) String() string {
	parts := []string{NetModel, "bridge=" + n.Bridge, "macaddr=" + n.MAC}
	if n.VLAN > 0 {
		parts = append(parts, "tag="+strconv.Itoa(n.VLAN))
	}
	if n.MTU > 0 {
		parts = append(parts, "mtu="+strconv.Itoa(n.MTU))
	}
	return strings.Join(parts, ",")
}

// CreateOptions are the static attributes of a new VM shell.
type CreateOptions struct {
	Name       string
	Machine    string
	CPU        string
	Cores      int
	MemoryMiB  int
	Tags       []string
	Net        NetDevice
	OnBoot     bool
	SMBIOSUUID string
}

func (o CreateOptions) settings() ([]Setting, error) {
	if !dnsName.MatchString(o.Name) {
		return nil, fmt.Errorf("invalid VM name %q", o.Name)
	}
	if o.Cores <= 0 {
		return nil, fmt.Errorf("cores must be positive, got %d", o.Cores)
	}
	if o.MemoryMiB <= 0 {
		return nil, fmt.Errorf("memory must be positive, got %d", o.MemoryMiB)
	}
	if o.Net.Bridge == "" || o.Net.MAC == "" {
		return nil, fmt.Errorf("network device needs a bridge and a MAC address")
	}
	if !bridgeName.MatchString(o.Net.Bridge) {
		return nil, fmt.Errorf("invalid bridge name %q", o.Net.Bridge)
	}
	if _, err := net.ParseMAC(o.Net.MAC); err != nil || strings.ContainsAny(o.Net.MAC, ",=") {
		return nil, fmt.Errorf("invalid MAC address %q", o.Net.MAC)
	}
	for _, t := range o.Tags {
		if !tagPattern.MatchString(t) {
			return nil, fmt.Errorf("invalid tag %q", t)
		}
	}

	s := []Setting{
		{Key: "agent", Value: "1"},
	}
	if o.Machine != "" {
		s = append(s, Setting{Key: "machine", Value: o.Machine})
	}
	s = append(s,
		Setting{Key: "tablet", Value: "0"},
		Setting{Key: "localtime", Value: "1"},
		Setting{Key: "bios", Value: BIOS},
	)
	if o.CPU != "" {
		s = append(s, Setting{Key: "cpu", Value: o.CPU})
	}
	s = append(s,
		Setting{Key: "cores", Value: strconv.Itoa(o.Cores)},
		Setting{Key: "memory", Value: strconv.Itoa(o.MemoryMiB)},
		Setting{Key: "name", Value: o.Name},
	)
	if len(o.Tags) > 0 {
		s = append(s, Setting{Key: "tags", Value: strings.Join(o.Tags, ";")})
	}
	s = append(s,
		Setting{Key: NetSlot, Value: o.Net.String()},
		Setting{Key: "onboot", Value: boolFlag(o.OnBoot)},
		Setting{Key: "ostype", Value: OSType},
		Setting{Key: "scsihw", Value: SCSIHW},
	)
	if o.SMBIOSUUID != "" {
		s = append(s, Setting{Key: "smbios1", Value: "uuid=" + o.SMBIOSUUID})
	}
	return s, nil
}

// EFIDiskSpec renders the firmware disk attachment for volume ref.
func EFIDiskSpec(ref string) string {
	return ref + ",efitype=" + EFIType
}

// RootDiskSpec renders the root disk attachment. cache is the qm cache mode
// (empty for the storage default) and thin the profile's thin flags, which
// already end in a comma.
func RootDiskSpec(ref, cache, thin, size string) string {
	var b strings.Builder
	b.WriteString(ref)
	b.WriteString(",")
	if cache != "" {
		b.WriteString("cache=" + cache + ",")
	}
	b.WriteString(thin)
	b.WriteString("size=" + size)
	return b.String()
}

// BootOrder renders --boot for booting from disk.
func BootOrder(disk string) string {
	return "order=" + disk
}
