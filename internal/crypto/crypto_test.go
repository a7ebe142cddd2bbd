package crypto

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestSealUnsealRoundTrip(t *testing.T) {
	c := testCipher(t)

	plaintexts := []string{"", "hello", "my dog's name is Buddy", strings.Repeat("x", 10_000)}
	for _, pt := range plaintexts {
		sealed, err := c.SealString(pt)
		if err != nil {
			t.Fatalf("SealString(%q): %v", pt, err)
		}
		if !IsSealed(sealed) {
			t.Errorf("IsSealed(%q) = false, want true", sealed)
		}
		got, err := c.UnsealString(sealed)
		if err != nil {
			t.Fatalf("UnsealString: %v", err)
		}
		if got != pt {
			t.Errorf("round trip = %q, want %q", got, pt)
		}
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	c := testCipher(t)

	a, err := c.SealString("same input")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := c.SealString("same input")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a == b {
		t.Error("two seals of the same plaintext produced identical ciphertexts")
	}
}

func TestUnsealRejectsTampering(t *testing.T) {
	c := testCipher(t)

	sealed, err := c.SealString("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	// Flip a character in the base64 body.
	body := []byte(sealed)
	last := len(body) - 5
	if body[last] == 'A' {
		body[last] = 'B'
	} else {
		body[last] = 'A'
	}
	if _, err := c.UnsealString(string(body)); err == nil {
		t.Error("UnsealString accepted a tampered value")
	}
}

func TestUnsealRejectsUnsealedValue(t *testing.T) {
	c := testCipher(t)
	if _, err := c.Unseal("plain text"); err == nil {
		t.Error("Unseal accepted a value without the sealed prefix")
	}
	var cerr *Error
	_, err := c.Unseal("plain text")
	if !errors.As(err, &cerr) {
		t.Errorf("error type = %T, want *crypto.Error", err)
	}
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Error("NewCipher accepted a short key")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	k1 := DeriveKey("correct horse battery staple", salt)
	k2 := DeriveKey("correct horse battery staple", salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt produced different keys")
	}
	if len(k1) != KeySize {
		t.Errorf("derived key length = %d, want %d", len(k1), KeySize)
	}

	other, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if bytes.Equal(k1, DeriveKey("correct horse battery staple", other)) {
		t.Error("different salts produced the same key")
	}
}

func TestSealFileRoundTrip(t *testing.T) {
	c := testCipher(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "plain.txt")
	enc := filepath.Join(dir, "plain.txt.enc")
	out := filepath.Join(dir, "restored.txt")

	content := []byte("backup payload\nwith two lines\n")
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := c.SealFile(src, enc); err != nil {
		t.Fatalf("SealFile: %v", err)
	}
	sealed, err := os.ReadFile(enc)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(sealed, []byte("backup payload")) {
		t.Error("sealed file contains plaintext")
	}

	if err := c.UnsealFile(enc, out); err != nil {
		t.Fatalf("UnsealFile: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("restored file = %q, want %q", got, content)
	}
}
