package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const (
	anonPrefix = "anon:"
	userPrefix = "user:"
)

// PrivacyService turns caller identities into the form that is stored next to
// votes, flags and claims. Client IPs never reach the database.
type PrivacyService struct {
	salt []byte
}

// NewService creates a new privacy service. An empty salt is replaced with a
// random one, which makes pseudonyms stable only for the process lifetime.
func NewService(salt string) *PrivacyService {
	if salt == "" {
		salt = uuid.NewString()
		slog.Warn("No privacy salt configured, anonymized identities will change on restart")
	}
	return &PrivacyService{salt: []byte(salt)}
}

// AnonymizeData returns a keyed SHA-256 digest of data
func (ps *PrivacyService) AnonymizeData(data string) string {
	mac := hmac.New(sha256.New, ps.salt)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// StoredIdentity maps a limiter identity ("user:<id>" or "ip:<addr>") to the
// value persisted with user content. User ids pass through; IP identities
// become a stable pseudonym.
func (ps *PrivacyService) StoredIdentity(identity string) string {
	if strings.HasPrefix(identity, userPrefix) {
		return identity
	}
	return anonPrefix + ps.AnonymizeData(identity)[:16]
}

// IsAnonymous reports whether a stored identity is a pseudonym
func IsAnonymous(stored string) bool {
	return strings.HasPrefix(stored, anonPrefix)
}

// IsReserved reports whether a display name would pass for a stored identity
func IsReserved(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return IsAnonymous(name) || strings.HasPrefix(name, userPrefix)
}

// GetDataRetentionInfo describes what is stored about callers
func (ps *PrivacyService) GetDataRetentionInfo() map[string]interface{} {
	return map[string]interface{}{
		"anonymization_method": "HMAC-SHA256",
		"ip_addresses_stored":  false,
		"pseudonym_length":     16,
		"rate_limit_state":     "in memory only, swept after the window expires",
	}
}
