// Package auth verifies signed Telegram login-widget payloads.
//
// The widget delivers a flat map of string fields plus a "hash": the
// hex-encoded HMAC-SHA256 of the remaining fields (sorted by key,
// joined as "key=value" lines) under a signing key derived as
// SHA-256(bot token). Verification is pure: no clock side effects, no
// state. Freshness is enforced against a configurable replay window.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status is the outcome of a verification attempt.
type Status int

// Verification outcomes.
const (
	// StatusOK means the payload is authentic and fresh.
	StatusOK Status = iota
	// StatusMissingField means id, auth_date, or hash was absent.
	StatusMissingField
	// StatusMalformedAuthDate means auth_date was not a base-10 integer.
	StatusMalformedAuthDate
	// StatusExpired means auth_date fell outside the replay window.
	StatusExpired
	// StatusInvalidHash means hash was malformed or did not match.
	StatusInvalidHash
)

// String returns a short machine-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissingField:
		return "missing_field"
	case StatusMalformedAuthDate:
		return "malformed_auth_date"
	case StatusExpired:
		return "expired"
	case StatusInvalidHash:
		return "invalid_hash"
	default:
		return "unknown"
	}
}

// DefaultMaxAge is the replay window applied when none is configured.
const DefaultMaxAge = 5 * time.Minute

// Verifier checks login payloads against a single bot token.
// The zero value is not usable; construct with NewVerifier.
type Verifier struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier derives the signing key from botToken and applies the
// given replay window (DefaultMaxAge when maxAge <= 0).
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	key := sha256.Sum256([]byte(botToken))
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{key: key[:], maxAge: maxAge, now: time.Now}
}

// Verify checks the login fields and returns the verification status.
// The input map is not modified.
func (v *Verifier) Verify(fields map[string]string) Status {
	if fields["id"] == "" || fields["auth_date"] == "" || fields["hash"] == "" {
		return StatusMissingField
	}

	authDate, err := strconv.ParseInt(fields["auth_date"], 10, 64)
	if err != nil {
		return StatusMalformedAuthDate
	}

	age := v.now().UTC().Unix() - authDate
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > v.maxAge {
		return StatusExpired
	}

	gotHash := strings.ToLower(fields["hash"])
	if !isHex64(gotHash) {
		return StatusInvalidHash
	}

	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(checkString(fields)))
	want := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal inspects every byte regardless of mismatch position.
	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return StatusInvalidHash
	}
	return StatusOK
}

// checkString builds the canonical signing input: every field except
// "hash", sorted by key ordinally, joined as key=value lines.
func checkString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
