package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Signer computes and verifies keyed signatures over a canonical form of a
// parameter set. The canonical form sorts keys, URL-encodes every key/value
// pair and joins them with '&'. Hash fields are never part of it.
type Signer struct {
	secret    []byte
	hashField string
	excluded  map[string]struct{}
}

// NewSigner returns a Signer that reads/writes the signature in hashField and
// additionally ignores the extra fields when canonicalizing.
func NewSigner(secret, hashField string, extraExcluded ...string) *Signer {
	excluded := map[string]struct{}{hashField: {}}
	for _, f := range extraExcluded {
		excluded[f] = struct{}{}
	}
	return &Signer{secret: []byte(secret), hashField: hashField, excluded: excluded}
}

// Canonical returns the signing string for params.
func (s *Signer) Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if _, skip := s.excluded[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical form.
func (s *Signer) Sign(params url.Values) string {
	return hex.EncodeToString(s.mac(s.Canonical(params)))
}

// SignedQuery returns the canonical query with the signature appended last.
func (s *Signer) SignedQuery(params url.Values) string {
	canonical := s.Canonical(params)
	return canonical + "&" + url.QueryEscape(s.hashField) + "=" + hex.EncodeToString(s.mac(canonical))
}

// Verify recomputes the signature over params and compares it in constant
// time with the one carried in the hash field.
func (s *Signer) Verify(params url.Values) bool {
	supplied := params.Get(s.hashField)
	if supplied == "" {
		return false
	}
	got, err := hex.DecodeString(supplied)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(s.Canonical(params)))
}

func (s *Signer) mac(data string) []byte {
	m := hmac.New(sha512.New, s.secret)
	m.Write([]byte(data))
	return m.Sum(nil)
}
