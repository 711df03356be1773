package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// DefaultSignatureParam is the query parameter the marketplace uses to carry
// the request signature unless deployment config overrides it.
const DefaultSignatureParam = "hmac"

// QuerySigner signs and verifies flat query-parameter sets with HMAC-SHA256.
//
// The canonical message excludes the signature parameter, sorts the remaining
// keys byte-wise ascending, and joins key=value pairs with "&" using the
// parameter values verbatim. Signatures render as lowercase hex.
type QuerySigner struct {
	SignatureParam string
	Secret         []byte
}

func NewQuerySigner(signatureParam string, secret []byte) QuerySigner {
	return QuerySigner{
		SignatureParam: strings.TrimSpace(signatureParam),
		Secret:         secret,
	}
}

func (s QuerySigner) signatureParam() string {
	param := strings.TrimSpace(s.SignatureParam)
	if param == "" {
		return DefaultSignatureParam
	}
	return param
}

// Message returns the canonical payload covered by the signature.
func (s QuerySigner) Message(params map[string]string) string {
	exclude := s.signatureParam()
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == exclude {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return strings.Join(pairs, "&")
}

// Sign computes the lowercase hex HMAC-SHA256 signature for params.
func (s QuerySigner) Sign(params map[string]string) string {
	mac := hmac.New(sha256.New, s.Secret)
	_, _ = mac.Write([]byte(s.Message(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the computed signature for params.
// It returns false, never an error, on missing or malformed input. Comparison
// runs in constant time over the decoded signature bytes.
func (s QuerySigner) Verify(params map[string]string, provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" || len(s.Secret) == 0 {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.Secret)
	_, _ = mac.Write([]byte(s.Message(params)))
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(decoded, expected) == 1
}
