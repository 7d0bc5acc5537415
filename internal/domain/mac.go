package domain

import (
	"fmt"
	"strings"
)

// NormalizeMAC lowercases a MAC/BSSID and strips colon separators,
// yielding the canonical 12-hex-digit key used by both the Wi-Fi and
// Bluetooth emitter tables. It accepts "50:FF:20:EC:90:D7" and
// "50ff20ec90d7" (and any case mix of either) and returns the same key
// for both — normalization is idempotent and collision-preserving
// across case/colon variants.
func NormalizeMAC(raw string) (string, error) {
	stripped := strings.ToLower(strings.ReplaceAll(raw, ":", ""))
	if len(stripped) != 12 {
		return "", fmt.Errorf("invalid MAC %q: expected 12 hex digits after stripping separators, got %d", raw, len(stripped))
	}
	for _, r := range stripped {
		if !isHexDigit(r) {
			return "", fmt.Errorf("invalid MAC %q: non-hex character %q", raw, r)
		}
	}
	return stripped, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}
