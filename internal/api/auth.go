package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vietddude/payguard/internal/core/authz"
)

type contextKey string

const callerContextKey = contextKey("caller")

// ErrTokenInvalid is returned for tokens that fail parsing or carry no subject.
var ErrTokenInvalid = errors.New("invalid token")

// ParseToken validates an HS256 bearer token and returns its caller.
// The caller comes from the "sub" and "roles" claims.
func ParseToken(tokenString string, secret []byte) (authz.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return authz.Caller{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authz.Caller{}, ErrTokenInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return authz.Caller{}, ErrTokenInvalid
	}

	caller := authz.Caller{UserID: sub}
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				caller.Roles = append(caller.Roles, authz.Role(s))
			}
		}
	}
	return caller, nil
}

// AuthMiddleware authenticates bearer tokens and stores the caller in the request context.
func AuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			caller, err := ParseToken(tokenString, secret)
			if err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the authenticated caller of a request.
func CallerFrom(ctx context.Context) (authz.Caller, bool) {
	c, ok := ctx.Value(callerContextKey).(authz.Caller)
	return c, ok
}
