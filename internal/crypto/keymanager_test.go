package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "my-api-secret" {
		t.Fatalf("decrypted %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestEncryptSecretRequiresInput(t *testing.T) {
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Fatalf("expected error for empty password")
	}
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: " raw "})
	if err != nil || got != "raw" {
		t.Fatalf("raw secret: got %q, %v", got, err)
	}

	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, Password: "pw"})
	if err != nil || got != "from-file" {
		t.Fatalf("file secret: got %q, %v", got, err)
	}

	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Fatalf("expected error without a source")
	}
}
