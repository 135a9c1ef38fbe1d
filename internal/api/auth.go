package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// TokenService issues and validates thread-scoped session tokens.
type TokenService struct {
	secretKey []byte

	// TokenDuration bounds how long an issued token stays valid.
	TokenDuration time.Duration
}

// SessionClaims are the claims carried by a session token. A token is bound
// to one thread; the stream and message endpoints reject tokens whose thread
// does not match the path.
type SessionClaims struct {
	ThreadID string `json:"thread_id"`
	jwt.RegisteredClaims
}

// NewTokenService creates a token service with the given signing secret.
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 12 * time.Hour,
	}
}

// IssueSessionToken signs a token scoped to a single thread.
func (ts *TokenService) IssueSessionToken(threadID string) (string, error) {
	claims := &SessionClaims{
		ThreadID: threadID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ts.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sessiond",
			Subject:   fmt.Sprintf("thread_%s", threadID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a token string and returns its claims.
func (ts *TokenService) ValidateToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// BearerAuth returns echo middleware that requires a valid Bearer token on
// every request and rejects tokens scoped to a different thread than the
// :id path parameter.
func (ts *TokenService) BearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
			}

			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if !found {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header")
			}

			claims, err := ts.ValidateToken(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			if threadID := c.Param("id"); threadID != "" && claims.ThreadID != threadID {
				return echo.NewHTTPError(http.StatusForbidden, "Token not valid for this session")
			}

			c.Set("thread_id", claims.ThreadID)
			return next(c)
		}
	}
}
