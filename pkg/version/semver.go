package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var semVerPattern = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?(?:\+[0-9A-Za-z.-]+)?$`)

// SemVer is a parsed engine or library version. Build metadata is dropped
// because it does not take part in ordering.
type SemVer struct {
	Major      int64
	Minor      int64
	Patch      int64
	PreRelease string
}

// Parse parses a semantic version such as "8.6.0" or "v8.7.0-alpha1".
func Parse(raw string) (SemVer, error) {
	matches := semVerPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if matches == nil {
		return SemVer{}, fmt.Errorf("invalid semantic version: %q", raw)
	}

	var parts [3]int64
	for i := range parts {
		n, err := strconv.ParseInt(matches[i+1], 10, 64)
		if err != nil {
			return SemVer{}, fmt.Errorf("invalid semantic version %q: %w", raw, err)
		}
		parts[i] = n
	}
	return SemVer{Major: parts[0], Minor: parts[1], Patch: parts[2], PreRelease: matches[4]}, nil
}

// String returns the canonical representation without a "v" prefix.
func (v SemVer) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		base += "-" + v.PreRelease
	}
	return base
}

// Compare returns -1 when v < other, 1 when v > other and 0 when equal.
func (v SemVer) Compare(other SemVer) int {
	for _, pair := range [][2]int64{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		if c := compareInt(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	return comparePreRelease(v.PreRelease, other.PreRelease)
}

// AtLeast reports whether raw parses to a version >= min.
func AtLeast(raw string, min SemVer) (bool, error) {
	v, err := Parse(raw)
	if err != nil {
		return false, err
	}
	return v.Compare(min) >= 0, nil
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePreRelease orders a release after all of its pre-releases and
// compares dot-separated identifiers numerically when both are numbers.
func comparePreRelease(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}

	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] == bParts[i] {
			continue
		}
		aNum, aErr := strconv.ParseInt(aParts[i], 10, 64)
		bNum, bErr := strconv.ParseInt(bParts[i], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return compareInt(aNum, bNum)
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		case aParts[i] < bParts[i]:
			return -1
		default:
			return 1
		}
	}
	return compareInt(int64(len(aParts)), int64(len(bParts)))
}
