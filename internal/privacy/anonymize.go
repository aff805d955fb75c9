// Package privacy provides anonymization and PII sanitization applied to
// user-identifying data before it is persisted or broadcast.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Policy controls which transforms are applied to user records.
// It is read once from configuration at startup and never mutated.
type Policy struct {
	// AnonymizeUserIDs replaces user identifiers with stable pseudonyms.
	AnonymizeUserIDs bool
	// StripPII removes direct PII fields (name, email) from user records.
	StripPII bool
}

// User is the subset of a user record that crosses the pipeline's trust
// boundary. Values are copied; transforms never mutate their input.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ErrEmptyKey is returned when an Anonymizer is constructed without a secret.
var ErrEmptyKey = errors.New("anonymization key cannot be empty")

// PseudonymLength is the length in hex characters of a pseudonymous token.
const PseudonymLength = 32

// Anonymizer produces stable pseudonymous tokens for user identifiers using
// a keyed cryptographic hash (HMAC-SHA256). The same identifier always maps
// to the same pseudonym under the same key, and pseudonyms cannot be
// reversed or forged without the key.
type Anonymizer struct {
	key    []byte
	policy Policy
}

// NewAnonymizer creates an Anonymizer with the given secret key and policy.
func NewAnonymizer(key string, policy Policy) (*Anonymizer, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Anonymizer{
		key:    []byte(key),
		policy: policy,
	}, nil
}

// Pseudonym returns the stable pseudonymous token for an identifier.
func (a *Anonymizer) Pseudonym(id string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:PseudonymLength]
}

// AnonymizeUser applies the configured policy to a user record and returns
// the transformed copy. The input is never modified.
func (a *Anonymizer) AnonymizeUser(u User) User {
	out := u
	if a.policy.AnonymizeUserIDs && out.ID != "" {
		out.ID = a.Pseudonym(out.ID)
	}
	if a.policy.StripPII {
		out.Name = ""
		out.Email = ""
	}
	return out
}

// piiKeys are removed unconditionally from free-form user data.
var piiKeys = map[string]bool{
	"email":     true,
	"phone":     true,
	"full_name": true,
	"fullName":  true,
	"name":      true,
}

// SanitizeUserData removes PII keys from free-form user data, such as
// session preferences, before it leaves the pipeline. Removal is
// unconditional and does not depend on the policy flags. Returns a new map;
// the input is never modified.
func SanitizeUserData(raw map[string]string) map[string]string {
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if piiKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
