package domain

import (
	crand "crypto/rand"
	"encoding/base64"
)

const accessTokenBytes = 16

// AccessTokenLength: длина токена в символах.
var AccessTokenLength = base64.RawURLEncoding.EncodedLen(accessTokenBytes)

// NewAccessToken создаёт непрозрачный токен для ссылок: 16 случайных байт в base64url без паддинга (22 символа).
func NewAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
