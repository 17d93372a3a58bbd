package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Header names of an authenticated marketplace request.
const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderNonce     = "X-API-NONCE"
	HeaderSignature = "X-API-SIGNATURE"
)

// HMACAuth signs marketplace API requests. The signature is
// hex(HMAC-SHA256(secret, METHOD#uri#key#nonce#md5hex(params))) where params
// are the url-encoded request parameters sorted by name.
//
// Nonces are strictly increasing for the lifetime of the value, so a single
// HMACAuth must be shared by everything using the same API key.
type HMACAuth struct {
	Key    string
	Secret string

	lastNonce atomic.Int64
}

// NewHMACAuth returns an authenticator whose nonces start after the current
// Unix time.
func NewHMACAuth(key, secret string) *HMACAuth {
	return NewHMACAuthAt(key, secret, time.Now().Unix())
}

// NewHMACAuthAt is like NewHMACAuth but lets the caller seed the nonce
// (useful for deterministic testing).
func NewHMACAuthAt(key, secret string, initNonce int64) *HMACAuth {
	h := &HMACAuth{Key: key, Secret: secret}
	h.lastNonce.Store(initNonce)
	return h
}

// Nonce returns the next nonce. It never repeats, even if the wall clock
// goes backwards.
func (h *HMACAuth) Nonce() int64 {
	return h.lastNonce.Add(1)
}

// Headers returns the authentication headers for a request. params may be
// nil for requests without a body.
func (h *HMACAuth) Headers(method, uri string, params url.Values) map[string]string {
	return h.HeadersAt(method, uri, params, h.Nonce())
}

// HeadersAt is like Headers but uses the given nonce.
func (h *HMACAuth) HeadersAt(method, uri string, params url.Values, nonce int64) map[string]string {
	n := strconv.FormatInt(nonce, 10)
	message := strings.Join([]string{
		strings.ToUpper(method),
		uri,
		h.Key,
		n,
		md5Hex(params.Encode()),
	}, "#")

	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderNonce:     n,
		HeaderSignature: hmacSHA256Hex([]byte(h.Secret), message),
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
