package share

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy, matching the size of the space a
// bearer capability needs to be unguessable.
const tokenBytes = 32

// GenerateToken produces a URL-safe opaque share token. The token carries no
// embedded structure; it is a pure capability, not an identifier.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
