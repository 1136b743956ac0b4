package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/privacyservices/psm/pkg/types"
)

// HardwareUUID queries the platform expert device for the IOPlatformUUID.
func HardwareUUID(ctx context.Context, r Runner, ioreg string) (string, error) {
	out, err := r.Run(ctx, ioreg, "-rd1", "-c", "IOPlatformExpertDevice")
	if err != nil {
		return "", fmt.Errorf("query hardware uuid: %w", err)
	}
	return ParseIORegUUID(out)
}

// ParseIORegUUID returns the value of the single UUID property in ioreg output.
// The string is returned as printed; it is only validated, not normalized,
// because the ByHost preference file is named after the printed form.
func ParseIORegUUID(out []byte) (string, error) {
	var matches []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "UUID") {
			matches = append(matches, line)
		}
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: could not find a unique UUID in ioreg output (%d candidates)", types.ErrExternalTool, len(matches))
	}
	_, value, ok := strings.Cut(matches[0], `= "`)
	if !ok {
		return "", fmt.Errorf("%w: malformed ioreg UUID line %q", types.ErrExternalTool, strings.TrimSpace(matches[0]))
	}
	value = strings.TrimSuffix(strings.TrimSpace(value), `"`)
	if _, err := uuid.Parse(value); err != nil {
		return "", fmt.Errorf("%w: invalid hardware uuid %q: %v", types.ErrExternalTool, value, err)
	}
	return value, nil
}
