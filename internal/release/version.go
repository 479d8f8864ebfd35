package release

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionPattern accepts dot-separated numeric groups with an optional
// trailing qualifier that starts with a letter: 17.0, 16.3.rc1, 17.0.dev20250101.
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([.-]?[A-Za-z][A-Za-z0-9._-]*)?$`)

var numericPrefix = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)*)[.-]?(.*)$`)

// maxVersionLength bounds what we are willing to embed in a URL or a path.
const maxVersionLength = 64

// ValidateVersion checks that v has the shape of an appliance version.
func ValidateVersion(v string) error {
	if v == "" {
		return fmt.Errorf("version is empty")
	}
	if len(v) > maxVersionLength {
		return fmt.Errorf("version is longer than %d characters", maxVersionLength)
	}
	if !versionPattern.MatchString(v) {
		return fmt.Errorf("version %q does not look like a release version", v)
	}
	return nil
}

// Compare orders two version strings. A trailing qualifier is treated as a
// pre-release, so 16.3.rc1 sorts before 16.3. Versions that cannot be
// parsed compare equal.
func Compare(a, b string) int {
	va, errA := toSemver(a)
	vb, errB := toSemver(b)
	if errA != nil || errB != nil {
		return 0
	}
	return va.Compare(vb)
}

func toSemver(v string) (*semver.Version, error) {
	m := numericPrefix.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return nil, fmt.Errorf("invalid version %q", v)
	}
	normalized := m[1]
	if m[2] != "" {
		normalized += "-" + m[2]
	}
	return semver.NewVersion(normalized)
}
