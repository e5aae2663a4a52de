package encoding

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentVersion is written into every document.
const CurrentVersion = "1.0.0"

var ErrUnsupportedVersion = errors.New("unsupported archive version")

var supported = semver.MustParse(CurrentVersion)

// CheckVersion accepts any version with the same major as CurrentVersion that is not newer
// than it. Documents written before versions were recorded carry none and are accepted.
func CheckVersion(v string) (*semver.Version, error) {
	if v == "" {
		return supported, nil
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", v, ErrUnsupportedVersion)
	}
	if parsed.Major() != supported.Major() || parsed.GreaterThan(supported) {
		return nil, fmt.Errorf("version %s, reader supports %s: %w", parsed, supported, ErrUnsupportedVersion)
	}
	return parsed, nil
}
