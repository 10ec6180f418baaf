package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

func NewSessionToken() (string, error) {
	return randomString(32)
}

func NewInviteCode() (string, error) {
	return randomString(16)
}

func randomString(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
