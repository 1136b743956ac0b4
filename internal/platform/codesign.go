package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/privacyservices/psm/pkg/types"
)

// ErrUnsigned is returned by CodeDirectoryHash for executables without a
// code signature.
var ErrUnsigned = errors.New("code object is not signed")

// CodeDirectoryHash returns the CDHash of the code signature on path.
func CodeDirectoryHash(ctx context.Context, r Runner, codesign, path string) (string, error) {
	out, err := r.Run(ctx, codesign, "-d", "-vvv", path)
	if err != nil {
		if strings.Contains(string(out), "not signed") {
			return "", ErrUnsigned
		}
		return "", fmt.Errorf("inspect signature of %s: %w", path, err)
	}
	return ParseCDHash(out)
}

// ParseCDHash extracts the CDHash value from `codesign -d -vvv` output.
func ParseCDHash(out []byte) (string, error) {
	text := string(out)
	if strings.Contains(text, "not signed") {
		return "", ErrUnsigned
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "CDHash="); ok && v != "" {
			return strings.ToLower(v), nil
		}
	}
	return "", fmt.Errorf("%w: no CDHash in codesign output", types.ErrExternalTool)
}
