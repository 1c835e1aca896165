// Package auth issues and validates visitor session tokens. Staff
// authentication is handled upstream of this service; the engine only
// needs a lightweight identity for the polling visitor endpoints.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// VisitorIDKey is the echo context key carrying the authenticated visitor.
const VisitorIDKey = "visitor_id"

// Claims is the visitor session token payload.
type Claims struct {
	jwt.RegisteredClaims
	VisitorID string `json:"visitor_id"`
	ExamType  string `json:"exam_type,omitempty"`
}

// Sessions issues and parses HS256 visitor tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions creates a token issuer. TTL <= 0 defaults to 24h, long
// enough to cover a full examination day.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for the visitor.
func (s *Sessions) Issue(visitorID, examType string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   visitorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		VisitorID: visitorID,
		ExamType:  examType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims.
func (s *Sessions) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if claims.VisitorID == "" {
		return nil, fmt.Errorf("session token missing visitor id")
	}
	return claims, nil
}

// Middleware attaches the visitor identity from a bearer token when one is
// presented. With required=true, requests without a valid token are
// rejected; otherwise they pass through anonymous (kiosk mode).
func (s *Sessions) Middleware(required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				if required {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
				}
				return next(c)
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")
			claims, err := s.Parse(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
			}
			c.Set(VisitorIDKey, claims.VisitorID)
			return next(c)
		}
	}
}
