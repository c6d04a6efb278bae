package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressHRP+"1") {
		t.Fatalf("expected %q prefix, got %q", AddressHRP, encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), raw)
	}
	if decoded.Array() != addr.Array() {
		t.Fatalf("array form mismatch")
	}
}

func TestDecodeAddressRejectsWrongPrefix(t *testing.T) {
	conv, err := bech32.ConvertBits(make([]byte, 20), 8, 5, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	foreign, err := bech32.Encode("btc", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(foreign); err == nil {
		t.Fatalf("expected prefix rejection")
	}
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func TestNewAddressPanicsOnBadLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for short address")
		}
	}()
	NewAddress([]byte{0x01})
}
