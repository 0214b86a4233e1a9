package store

import (
	"bytes"
	"errors"
	"testing"
)

func testCodec(t *testing.T) *AEADCodec {
	t.Helper()
	codec, err := NewAEADCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewAEADCodec failed: %v", err)
	}
	return codec
}

func TestCodecRejectsShortMasterKey(t *testing.T) {
	if _, err := NewAEADCodec([]byte("too-short")); !errors.Is(err, ErrCodecKeyTooShort) {
		t.Fatalf("expected ErrCodecKeyTooShort, got %v", err)
	}
}

func TestCodecSealOpenRoundTrip(t *testing.T) {
	codec := testCodec(t)
	plaintext := []byte(`{"secret":"JBSWY3DPEHPK3PXP"}`)

	sealed, err := codec.Seal("security", plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains([]byte(sealed), []byte("JBSWY3DP")) {
		t.Fatal("sealed output leaked plaintext")
	}

	opened, err := codec.Open("security", sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: %s", opened)
	}
}

func TestCodecNamespaceBindsCiphertext(t *testing.T) {
	codec := testCodec(t)

	sealed, err := codec.Seal("security", []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := codec.Open("other", sealed); err == nil {
		t.Fatal("record copied across namespaces must not open")
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	codec := testCodec(t)

	sealed, err := codec.Seal("security", []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := []byte(sealed)
	tampered[10] ^= 0x04
	if _, err := codec.Open("security", string(tampered)); err == nil {
		t.Fatal("tampered ciphertext must not open")
	}

	if _, err := codec.Open("security", "!!!not-base64!!!"); err == nil {
		t.Fatal("malformed encoding must not open")
	}
	if _, err := codec.Open("security", "AAAA"); err == nil {
		t.Fatal("truncated ciphertext must not open")
	}
}

func TestCodecFreshNoncePerSeal(t *testing.T) {
	codec := testCodec(t)

	a, err := codec.Seal("security", []byte("same"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := codec.Seal("security", []byte("same"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if a == b {
		t.Fatal("two seals of the same plaintext must differ")
	}
}

func TestCodecDifferentMasterKeysDoNotInterop(t *testing.T) {
	a := testCodec(t)
	b, err := NewAEADCodec([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewAEADCodec failed: %v", err)
	}

	sealed, err := a.Seal("security", []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := b.Open("security", sealed); err == nil {
		t.Fatal("a different master key must not open the record")
	}
}
