package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/lecture-qa/internal/database"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified token says about its bearer.
type Identity struct {
	Id    string        `json:"id"`
	Email string        `json:"email"`
	Role  database.Role `json:"role"`
}

type claims struct {
	UserId string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

// TokenCodec signs and verifies HS256 tokens. A zero ttl issues tokens
// without an exp claim.
type TokenCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenCodec(key []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{
		key: key,
		ttl: ttl,
		now: time.Now,
	}
}

func (tc *TokenCodec) TTL() time.Duration {
	return tc.ttl
}

func (tc *TokenCodec) Sign(id Identity) (string, error) {
	c := claims{
		UserId: id.Id,
		Email:  id.Email,
		Role:   string(id.Role),
		StandardClaims: jwt.StandardClaims{
			IssuedAt: tc.now().Unix(),
		},
	}
	if tc.ttl > 0 {
		c.ExpiresAt = tc.now().Add(tc.ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(tc.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (tc *TokenCodec) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tc.key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || c.UserId == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		Id:    c.UserId,
		Email: c.Email,
		Role:  database.Role(c.Role),
	}, nil
}
