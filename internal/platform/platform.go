// Package platform defines the closed set of supported messaging platforms
// and the versioned opaque-document types round-tripped through them.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a connected messaging platform.
type Platform string

const (
	X         Platform = "x"
	Instagram Platform = "instagram"
	LinkedIn  Platform = "linkedin"
	Telegram  Platform = "telegram"
	Email     Platform = "email"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// All lists every supported platform.
func All() []Platform {
	return []Platform{X, Instagram, LinkedIn, Telegram, Email}
}

// Parse validates and normalizes a raw platform string.
func Parse(raw string) (Platform, error) {
	normalized := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, p := range All() {
		if normalized == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported platform: %s", raw)
}
