package util

import (
	"fmt"
	"regexp"
)

// validIDChars matches only alphanumeric characters, hyphens, and periods.
var validIDChars = regexp.MustCompile(`^[a-zA-Z0-9.\-]+$`)

// ValidateID checks that an identifier is safe to use in report paths
// and upstream queries:
//   - At least 2 characters
//   - Only alphanumeric characters (a-z, A-Z, 0-9), hyphens (-), and periods (.)
//   - First character must be alphanumeric
//   - Last character must not be a hyphen or period
func ValidateID(id string) error {
	if len(id) < 2 {
		return fmt.Errorf("identifier must be at least 2 characters, got %d", len(id))
	}

	if !validIDChars.MatchString(id) {
		return fmt.Errorf("identifier %q contains invalid characters (only a-z, A-Z, 0-9, hyphens, and periods are allowed)", id)
	}

	first := id[0]
	if !isAlphanumeric(first) {
		return fmt.Errorf("identifier must start with an alphanumeric character, got %q", string(first))
	}

	last := id[len(id)-1]
	if last == '-' || last == '.' {
		return fmt.Errorf("identifier must not end with a hyphen or period, got %q", string(last))
	}

	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
