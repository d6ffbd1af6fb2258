package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator accepts HS256-signed bearer tokens. The subject claim is
// required; a roles claim narrows what the token may do, and a token
// without one keeps the full role set for compatibility with issuers that
// only assert identity.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

func (v *JWTValidator) Validate(_ context.Context, credential string) (Identity, bool) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, false
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, false
	}

	roles := []string{RoleAsk, RoleExport}
	if raw, ok := claims["roles"]; ok {
		claimed, ok := raw.([]any)
		if !ok {
			return Identity{}, false
		}
		roles = roles[:0]
		for _, entry := range claimed {
			role, ok := entry.(string)
			if !ok {
				return Identity{}, false
			}
			roles = append(roles, role)
		}
	}
	return Identity{Subject: subject, Roles: roles}, true
}
