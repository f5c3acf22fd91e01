package credential

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/qiskit-community/qrmi/internal/util"
)

// DefaultGracePeriod is the margin subtracted from a credential's expiry
// before it stops being usable locally.
const DefaultGracePeriod = 30 * time.Second

// MinGracePeriod is the smallest grace period a Store accepts.
const MinGracePeriod = 10 * time.Second

// Credential is a bearer token with an optional expiry. A zero ExpiresAt
// means the expiry is unknown and the token stays usable until the
// provider rejects it.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// HasExpiry reports whether the expiry is known.
func (c Credential) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Usable reports whether the credential can be sent at now.
func (c Credential) Usable(now time.Time, grace time.Duration) bool {
	if c.Token == "" {
		return false
	}
	if !c.HasExpiry() {
		return true
	}
	return c.ExpiresAt.After(now.Add(grace))
}

// ParseExpiry reads the exp claim of a JWT without verifying the signature.
//
// It returns ok=false with a nil error when the token carries no exp claim,
// an exp that is neither a number nor a string, or is an opaque token
// without any dot. A dotted token that is not made of exactly three
// segments, whose payload is not unpadded base64url encoded JSON, or
// whose string exp is not numeric, yields ErrMalformedCredential.
func ParseExpiry(token string) (exp int64, ok bool, err error) {
	if !strings.Contains(token, ".") {
		return 0, false, nil
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, false, fmt.Errorf("%w: expected 3 segments, got %d", util.ErrMalformedCredential, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, false, fmt.Errorf("%w: payload is not base64url: %v", util.ErrMalformedCredential, err)
	}

	var claims map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return 0, false, fmt.Errorf("%w: payload is not a JSON object: %v", util.ErrMalformedCredential, err)
	}

	raw, found := claims["exp"]
	if !found {
		return 0, false, nil
	}

	exp, ok, err = parseNumericClaim(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: exp claim: %v", util.ErrMalformedCredential, err)
	}
	return exp, ok, nil
}

// parseNumericClaim accepts a JSON number or a string holding a number.
// Any other JSON type means the claim carries no expiry.
func parseNumericClaim(raw json.RawMessage) (int64, bool, error) {
	var n json.Number
	switch trimmed := bytes.TrimSpace(raw); {
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false, err
		}
		n = json.Number(strings.TrimSpace(s))
	case len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')):
		n = json.Number(trimmed)
	default:
		return 0, false, nil
	}

	if i, err := n.Int64(); err == nil {
		return i, true, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a number: %s", n.String())
	}
	return int64(f), true, nil
}

// ExpiryTime converts the exp claim to a time, returning the zero time
// when the token has no known expiry.
func ExpiryTime(token string) (time.Time, error) {
	exp, ok, err := ParseExpiry(token)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Unix(exp, 0), nil
}

// IsUsable reports whether token is non-empty and either carries no exp
// claim or expires after now+grace. Malformed tokens are never usable.
func IsUsable(token string, now time.Time, grace time.Duration) bool {
	if token == "" {
		return false
	}
	expiry, err := ExpiryTime(token)
	if err != nil {
		return false
	}
	return Credential{Token: token, ExpiresAt: expiry}.Usable(now, grace)
}
