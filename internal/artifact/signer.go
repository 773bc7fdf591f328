package artifact

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrBadSignature is returned when a signature does not match.
	ErrBadSignature = errors.New("invalid artifact signature")
	// ErrLinkExpired is returned when a signed URL's expiry has passed.
	ErrLinkExpired = errors.New("artifact link expired")
)

// Signer issues and verifies time-limited signed artifact URLs. A signed URL
// embeds the expiry and an HMAC over (key, expiry), so possession of the URL
// grants read access until it expires — the same shape as an object-store
// presigned URL, without handing clients raw result bytes inline.
type Signer struct {
	key     []byte
	baseURL string
	ttl     time.Duration
}

// NewSigner derives a fixed-size signing key from secret. baseURL is the
// public prefix under which artifacts are served.
func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	derived := blake2b.Sum256([]byte(secret))
	return &Signer{
		key:     derived[:],
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

// SignedURL returns a URL granting access to key until the TTL elapses.
func (s *Signer) SignedURL(key string) string {
	expires := time.Now().Add(s.ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s",
		s.baseURL, key, expires, s.signature(key, expires))
}

// Verify checks the signature and expiry for key. Signature validity is
// checked first so an attacker cannot distinguish expired from forged.
func (s *Signer) Verify(key string, expires int64, sig string) error {
	expected := s.signature(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	if time.Now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}

func (s *Signer) signature(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
