// Package crypto provides request signing for the venue's REST and WebSocket
// APIs and at-rest encryption of the API secret.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by every signed request and by the WS handshake.
const (
	HeaderAPIKey    = "Arkham-API-Key"
	HeaderExpires   = "Arkham-Expires"
	HeaderSignature = "Arkham-Signature"
)

// expiryWindow is how far in the future a signature stays valid.
const expiryWindow = 300 * time.Second

// HMACAuth holds the credentials required for signed requests.
type HMACAuth struct {
	key    string
	secret []byte // decoded
	now    func() time.Time
}

// NewHMACAuth builds an HMACAuth from an API key and the base64-encoded
// secret issued by the venue.
func NewHMACAuth(key, secretB64 string) (*HMACAuth, error) {
	if key == "" {
		return nil, errors.New("crypto: api key must not be empty")
	}
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode api secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("crypto: api secret must not be empty")
	}
	return &HMACAuth{key: key, secret: secret, now: time.Now}, nil
}

// Headers returns the signature headers for a request. The signature is
// base64(HMAC-SHA256(secret, key+expires+method+path+body)) with expires in
// Unix microseconds.
func (h *HMACAuth) Headers(method, path, body string) http.Header {
	return h.HeadersAt(method, path, body, h.now())
}

// HeadersAt is like Headers but lets the caller supply the signing time
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, at time.Time) http.Header {
	expires := strconv.FormatInt(at.Add(expiryWindow).UnixMicro(), 10)

	hdr := make(http.Header, 3)
	hdr.Set(HeaderAPIKey, h.key)
	hdr.Set(HeaderExpires, expires)
	hdr.Set(HeaderSignature, h.sign(expires+method+path+body))
	return hdr
}

// WSHeaders returns fresh handshake headers for the streaming endpoint at
// path. They must be regenerated for every connection attempt.
func (h *HMACAuth) WSHeaders(path string) http.Header {
	return h.Headers(http.MethodGet, path, "")
}

func (h *HMACAuth) sign(payload string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(h.key + payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	k := "****"
	if len(h.key) > 4 {
		k = h.key[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=****}", k)
}
