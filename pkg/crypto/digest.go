package crypto

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSecret возвращает детерминированный необратимый отпечаток секрета (BLAKE2b-256, hex).
//
// Отпечаток используется только как ключ инвалидации кэша сессий:
// сам пароль нигде не хранится, а смена пароля даёт другой отпечаток.
func DigestSecret(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DigestsEqual сравнивает два отпечатка за постоянное время
func DigestsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
