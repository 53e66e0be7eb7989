package auth

import (
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// AccessClaims are the claims carried by an access token. v4.local tokens
// are encrypted, so clients cannot read them.
type AccessClaims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`

	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}

// Actor returns the identity the claims were issued to.
func (c *AccessClaims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Username: c.Username, Role: c.Role}
}
