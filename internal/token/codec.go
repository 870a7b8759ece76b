// Package token derives stateless unsubscribe tokens from recipient addresses.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var ErrEmptySecret = errors.New("token secret must not be empty")

// Codec signs addresses with HMAC-SHA256 under a server secret. Tokens do
// not expire and carry no stored state; the address is used byte for byte.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encode returns the URL-safe token for address.
func (c *Codec) Encode(address string) string {
	return base64.RawURLEncoding.EncodeToString(c.mac(address))
}

// Verify recomputes the token for address and compares it in constant time.
func (c *Codec) Verify(address, token string) bool {
	got, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(got, c.mac(address))
}

func (c *Codec) mac(address string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(address))
	return h.Sum(nil)
}
