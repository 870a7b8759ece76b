package token

import (
	"errors"
	"testing"
)

func newCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	c, err := NewCodec(secret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestEncodeVerifyRoundTrip(t *testing.T) {
	c := newCodec(t, "s3cret")
	addresses := []string{
		"a@x.com",
		"A@X.com",
		"first.last+news@example.co.uk",
		"\"quoted name\"@example.com",
		"ünïcødé@例え.jp",
		"",
	}
	for _, addr := range addresses {
		tok := c.Encode(addr)
		if !c.Verify(addr, tok) {
			t.Errorf("Verify(%q, Encode(%q)) = false", addr, addr)
		}
	}
}

func TestVerifyRejectsOtherAddress(t *testing.T) {
	c := newCodec(t, "s3cret")
	tok := c.Encode("b@x.com")
	if c.Verify("a@x.com", tok) {
		t.Fatal("token for b@x.com verified for a@x.com")
	}
	// no case folding: addresses must round-trip exactly
	if c.Verify("B@x.com", tok) {
		t.Fatal("token verified for a differently cased address")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	c := newCodec(t, "s3cret")
	tok := []byte(c.Encode("a@x.com"))
	if tok[0] == 'A' {
		tok[0] = 'B'
	} else {
		tok[0] = 'A'
	}
	if c.Verify("a@x.com", string(tok)) {
		t.Fatal("tampered token verified")
	}
	if c.Verify("a@x.com", "!!not-base64!!") {
		t.Fatal("garbage token verified")
	}
	if c.Verify("a@x.com", "") {
		t.Fatal("empty token verified")
	}
}

func TestTokensDependOnSecret(t *testing.T) {
	a := newCodec(t, "one")
	b := newCodec(t, "two")
	if b.Verify("a@x.com", a.Encode("a@x.com")) {
		t.Fatal("token from a different secret verified")
	}
	if a.Encode("a@x.com") != newCodec(t, "one").Encode("a@x.com") {
		t.Fatal("encoding is not deterministic")
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("NewCodec(\"\") err = %v, want ErrEmptySecret", err)
	}
}
