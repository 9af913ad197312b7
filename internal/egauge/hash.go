package egauge

import (
	"crypto/md5" //nolint:gosec // digest-auth compatibility, not used for security
	"encoding/hex"
	"strings"
)

// digest returns the hex MD5 digest of the colon-joined parts. The device's
// digest authentication scheme mandates MD5; the result is byte-stable for a
// given ordering of parts.
func digest(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":"))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
