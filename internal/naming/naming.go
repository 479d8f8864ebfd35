// Package naming holds the host's naming conventions for VM disk volumes,
// volume references and generated MAC addresses, and the token rule used to
// decide whether a name embeds a VM ID.
package naming

import (
	"crypto/rand"
	"fmt"
	"net"
	"path"
	"regexp"
	"strconv"
)

// DiskVolumeName returns the base volume name for disk index of vmid.
// Format: vm-{vmid}-disk-{index}
func DiskVolumeName(vmid, index int) string {
	return fmt.Sprintf("vm-%d-disk-%d", vmid, index)
}

// PerVMPath returns name inside the VM's own subdirectory.
// Format: {vmid}/{name}
func PerVMPath(vmid int, name string) string {
	return path.Join(strconv.Itoa(vmid), name)
}

// VolumeRef qualifies a volume path with its storage.
// Format: {storage}:{path}
func VolumeRef(storage, volPath string) string {
	return storage + ":" + volPath
}

// DefaultVMName returns the VM name used when none is configured.
// Format: haos-{version}
func DefaultVMName(version string) string {
	return "haos-" + version
}

// IDMatcher reports whether a name contains a VM ID as a whole token, i.e.
// bounded by start/end or one of - _ / : (and . after the ID).
type IDMatcher struct {
	re *regexp.Regexp
}

// NewIDMatcher builds a matcher for vmid.
func NewIDMatcher(vmid int) IDMatcher {
	return IDMatcher{re: regexp.MustCompile(`(^|[-_/:])` + strconv.Itoa(vmid) + `($|[-_/.])`)}
}

// Match reports whether name embeds the ID.
func (m IDMatcher) Match(name string) bool {
	return m.re.MatchString(name)
}

// MatchAny reports whether any of names embeds the ID.
func (m IDMatcher) MatchAny(names []string) bool {
	for _, n := range names {
		if m.Match(n) {
			return true
		}
	}
	return false
}

// RandomMAC returns a random unicast, locally administered MAC address with
// the 02: prefix.
func RandomMAC() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	mac := net.HardwareAddr(append([]byte{0x02}, buf...))
	return mac.String(), nil
}

// NormalizeMAC parses mac and returns it in lower-case colon form. Only
// 48-bit unicast addresses are accepted.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address %q: must be 48 bits", mac)
	}
	if hw[0]&0x01 != 0 {
		return "", fmt.Errorf("invalid MAC address %q: multicast bit set", mac)
	}
	return hw.String(), nil
}
