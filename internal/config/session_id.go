package config

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// SessionID fingerprints account and purpose into a stable session id. The
// same pair always resolves to the same id, so an interrupted run and its
// resume land on the same persisted state.
func SessionID(account, purpose string) string {
	raw := strings.TrimSpace(account) + "|" + strings.TrimSpace(purpose)
	hash := sha1.Sum([]byte(raw))
	return hex.EncodeToString(hash[:])
}
