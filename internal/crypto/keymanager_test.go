package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("bridge-hmac-secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptSecret(blob, "pw")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "bridge-hmac-secret" {
		t.Errorf("round trip = %q", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("s", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("wrong password must fail")
	}
}

func TestEncryptSecretRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("empty secret must be rejected")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Error("empty password must be rejected")
	}
}

func TestLoadBridgeSecret(t *testing.T) {
	// Raw secret takes precedence.
	got, err := LoadBridgeSecret(SecretConfig{RawSecret: "raw"})
	if err != nil || got != "raw" {
		t.Errorf("raw secret: got %q, %v", got, err)
	}

	// Encrypted file path.
	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bridge.key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err = LoadBridgeSecret(SecretConfig{EncryptedSecretPath: path, Password: "pw"})
	if err != nil || got != "from-file" {
		t.Errorf("encrypted file: got %q, %v", got, err)
	}

	// Nothing configured.
	if _, err := LoadBridgeSecret(SecretConfig{}); err == nil {
		t.Error("no source configured must error")
	}
}
