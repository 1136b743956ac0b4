package location

import (
	"fmt"
	"strings"
)

// BundleRequirement is the designated requirement recorded for an
// application: its identifier anchored to the second component of it
// ("com.apple.Safari" is anchored to "apple").
func BundleRequirement(bundleID string) (string, error) {
	parts := strings.Split(bundleID, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("bundle identifier %q has no anchor component", bundleID)
	}
	return fmt.Sprintf("identifier %q and anchor %s", bundleID, parts[1]), nil
}

// CDHashRequirement pins a bare executable to its code directory hash.
func CDHashRequirement(hash string) string {
	return fmt.Sprintf(`cdhash H"%s"`, strings.ToLower(hash))
}
