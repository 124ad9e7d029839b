package util

import "testing"

func TestCryptoRandBytesLength(t *testing.T) {
	b, err := CryptoRandBytes(20)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 20 {
		t.Fatalf("len = %d, want 20", len(b))
	}
}

func TestCryptoRandBytesVaries(t *testing.T) {
	a, _ := CryptoRandBytes(20)
	b, _ := CryptoRandBytes(20)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("two independent 20-byte draws were identical; suspiciously weak randomness")
	}
}
