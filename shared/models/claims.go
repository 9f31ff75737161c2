package models

import "github.com/golang-jwt/jwt/v5"

// Claims представляет поля JWT, которые выпускаются для локальных и сервисных вызовов.
// UserID совпадает с uid аккаунта в Firebase, чтобы обе схемы аутентификации давали одинаковую идентичность.
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email,omitempty"`
	jwt.RegisteredClaims        // Issuer, Subject, Audience, ExpiresAt, NotBefore, IssuedAt, ID (JTI)
}

// Identity - проверенная личность вызывающей стороны.
type Identity struct {
	UID   string
	Email string
}
