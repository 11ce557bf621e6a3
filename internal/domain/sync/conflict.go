package sync

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Wins reports whether an incoming write stamped with clock replaces the
// current materialized record. Later HLC wins; HLC already breaks ties by
// device id, so the result does not depend on arrival order. A missing
// record always loses.
func Wins(current *Record, incoming Record) bool {
	if current == nil {
		return true
	}
	return incoming.Clock.After(current.Clock)
}

// Checksum is the hex blake2b-256 digest of a payload, empty for none.
func Checksum(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether payload matches sum.
func VerifyChecksum(payload []byte, sum string) bool {
	return subtle.ConstantTimeCompare([]byte(Checksum(payload)), []byte(sum)) == 1
}
