// Package crypto holds the API credential handling for venue
// authentication.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// APICredentials holds the key pair for HMAC-authenticated venue sessions.
type APICredentials struct {
	Key    string // API key
	Secret string // API secret
}

// Empty reports whether no credentials are configured, which means the venue
// session runs unauthenticated.
func (c *APICredentials) Empty() bool {
	return c.Key == "" && c.Secret == ""
}

// AuthFields returns the timestamp and signature for an authentication
// handshake. The signature is HMAC-SHA256(secret, timestamp+key) encoded as
// base64.
func (c *APICredentials) AuthFields() (timestamp, signature string) {
	return c.AuthFieldsAt(time.Now().Unix())
}

// AuthFieldsAt is like AuthFields but lets the caller supply the Unix
// timestamp (useful for deterministic testing).
func (c *APICredentials) AuthFieldsAt(unixTS int64) (timestamp, signature string) {
	ts := strconv.FormatInt(unixTS, 10)
	return ts, hmacSHA256Base64([]byte(c.Secret), ts+c.Key)
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (c *APICredentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICredentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
