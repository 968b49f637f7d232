package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewID returns a best-effort unique handle of the form "<prefix>_<hex>".
// Handles are process-local; persisted records use UUIDs.
func NewID(prefix string) string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		// Fallback to timestamp if crypto/rand is unavailable.
		return prefix + "_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
