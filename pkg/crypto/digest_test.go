package crypto

import "testing"

// TestDigestSecret_Deterministic проверяет, что один и тот же секрет даёт один отпечаток
func TestDigestSecret_Deterministic(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"simple password", "password123"},
		{"unicode password", "пароль123"},
		{"empty password", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := DigestSecret(tt.secret)
			second := DigestSecret(tt.secret)

			if first != second {
				t.Errorf("digest is not deterministic: %s != %s", first, second)
			}
			if len(first) != 64 {
				t.Errorf("expected 64 hex chars, got %d", len(first))
			}
			if tt.secret != "" && first == tt.secret {
				t.Error("digest must differ from the secret")
			}
		})
	}
}

func TestDigestSecret_DifferentSecrets(t *testing.T) {
	if DigestSecret("secret1") == DigestSecret("secret2") {
		t.Error("different secrets must produce different digests")
	}
}

func TestDigestsEqual(t *testing.T) {
	a := DigestSecret("secret1")

	if !DigestsEqual(a, DigestSecret("secret1")) {
		t.Error("equal digests reported as different")
	}
	if DigestsEqual(a, DigestSecret("secret2")) {
		t.Error("different digests reported as equal")
	}
	if DigestsEqual(a, "") {
		t.Error("empty digest must not match")
	}
}
