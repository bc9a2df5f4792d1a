package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// KeySet holds the sha256 hashes of the configured API keys.
type KeySet struct {
	hashes []string
}

func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		ks.hashes = append(ks.hashes, HashAPIKey(k))
	}
	return ks
}

func (ks *KeySet) Len() int { return len(ks.hashes) }

// Match returns the principal ID for key. Every stored hash is compared so
// timing does not depend on which key matched.
func (ks *KeySet) Match(key string) (string, bool) {
	hash := HashAPIKey(key)
	matched := ""
	for _, h := range ks.hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			matched = h
		}
	}
	if matched == "" {
		return "", false
	}
	return "key:" + matched[:12], true
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
