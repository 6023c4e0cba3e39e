package markdown

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Digest returns the hex BLAKE3-256 hash of content. Handlers log it so
// an upload can be matched against a later download.
func Digest(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
