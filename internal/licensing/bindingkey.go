package licensing

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// BindingKey derives the deterministic client identifier for a
// (serviceID, serviceVersion, instanceID) triple. It is the unit of
// token/session identity: the JWT subject, the session cache key, and the
// conflict-detection key are all this value.
func BindingKey(serviceID, serviceVersion, instanceID string) string {
	payload := strings.Join([]string{serviceID, serviceVersion, instanceID}, "|")
	sum := sha256.Sum256([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
