package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/levelup/internal/errors"
)

type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// SignAdminToken issues an admin token for subject valid for ttl.
func SignAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("empty jwt secret")
	}

	now := time.Now()
	claims := Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *API) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return c, nil
}

func (a *API) requireAdmin(c *gin.Context) {
	h := c.GetHeader("Authorization")
	if len(a.secret) == 0 || !strings.HasPrefix(h, "Bearer ") {
		writeError(c, errors.New(errors.CodeUnauthenticated))
		return
	}

	claims, err := a.parseToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	if err != nil {
		writeError(c, errors.New(errors.CodeUnauthenticated, errors.WithCause(err)))
		return
	}
	if !claims.Admin {
		writeError(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("admin token required")))
		return
	}

	c.Next()
}
