package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the content digest of arbitrary prompt input
// bytes, used both as a Step's input_fingerprint and, when derived
// from session id + kind + key, as a Step's id — the idempotency
// guarantee described in the Step data model.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so "ab"+"c" != "a"+"bc"
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StepID derives a step's stable id from the session it belongs to
// plus its kind and key. The same (session, kind, key) triple always
// resolves to the same id, across restarts and across re-planning.
func StepID(sessionID string, kind Kind, key string) string {
	return Fingerprint(sessionID, string(kind), key)
}
