package signer

import (
	"path/filepath"
	"testing"
)

func TestSoftwareGenerateLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	gen, err := GenerateSoftware(path)
	if err != nil {
		t.Fatalf("GenerateSoftware: %v", err)
	}
	loaded, err := LoadSoftware(path)
	if err != nil {
		t.Fatalf("LoadSoftware: %v", err)
	}
	if string(loaded.PublicKey()) != string(gen.PublicKey()) {
		t.Fatalf("public key mismatch after reload")
	}
	sig, err := loaded.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(loaded.PublicKey(), []byte("hello"), sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(loaded.PublicKey(), []byte("goodbye"), sig) {
		t.Fatalf("signature verified against the wrong body")
	}
}

func TestParseHSMKeyIDDecimalAndHex(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"42", 42},
		{"0x2a", 42},
		{"0X2A", 42},
	}
	for _, c := range cases {
		got, err := ParseHSMKeyID(c.in)
		if err != nil {
			t.Fatalf("ParseHSMKeyID(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseHSMKeyID(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseHSMKeyIDRejectsEmpty(t *testing.T) {
	if _, err := ParseHSMKeyID(""); err == nil {
		t.Fatalf("expected an error for an empty key id")
	}
}
