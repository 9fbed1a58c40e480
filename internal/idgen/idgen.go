// Package idgen mints the random identifiers attached to stored records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 hex characters drawn from
// crypto/rand. The prefixes in use are "asmt_" for assessments,
// "alert_" for alerts, "note_" for escalation notices, "evt_" for
// behavior events, and "req_" for request correlation.
func WithPrefix(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
