// Package auth derives the local user identity from a bearer token.
package auth

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"gigsync/internal/models"
)

// LocalUser identifies the authenticated user behind a bearer token.
type LocalUser struct {
	ID       uint
	Username string
}

// FromToken extracts the local user from a JWT. When secret is non-empty the
// signature is verified (HMAC only); otherwise claims are parsed unverified,
// which is acceptable client-side where the token was issued to us and the
// server remains the authority.
func FromToken(tokenString, secret string) (LocalUser, error) {
	var claims jwt.MapClaims

	if secret != "" {
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, models.NewUnauthorizedError("Invalid signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return LocalUser{}, models.NewUnauthorizedError("Invalid or expired token")
		}
		mc, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return LocalUser{}, models.NewUnauthorizedError("Invalid token claims")
		}
		claims = mc
	} else {
		token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return LocalUser{}, models.NewUnauthorizedError("Malformed token")
		}
		mc, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return LocalUser{}, models.NewUnauthorizedError("Invalid token claims")
		}
		claims = mc
	}

	subClaim, ok := claims["sub"]
	if !ok {
		return LocalUser{}, models.NewUnauthorizedError("Invalid token structure - missing subject")
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return LocalUser{}, models.NewUnauthorizedError("Invalid token subject type")
	}
	userID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil {
		return LocalUser{}, models.NewUnauthorizedError("Invalid user ID in token")
	}

	user := LocalUser{ID: uint(userID)}
	if username, ok := claims["username"].(string); ok {
		user.Username = username
	}
	return user, nil
}

// IssueToken signs a token for the given user. Used by the fixture backend's
// login endpoint; live tokens come from the real API.
func IssueToken(user LocalUser, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":      strconv.FormatUint(uint64(user.ID), 10),
		"username": user.Username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
