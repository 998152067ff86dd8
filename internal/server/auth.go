package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
)

const userIDContextKey = "userID"

var errMissingToken = errors.New("missing bearer token")

// Authenticate verifies an HS256 bearer token and stores its user id in the
// gin context. The id comes from the userId claim, falling back to sub.
func Authenticate(secret []byte, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		id, err := userFromHeader(c.GetHeader("Authorization"), secret)
		if err != nil {
			logger.Debug("bearer token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no autorizado"})
			return
		}
		c.Set(userIDContextKey, id)
		c.Request = c.Request.WithContext(common.WithUserID(c.Request.Context(), id))
		c.Next()
	}
}

func userFromHeader(header string, secret []byte) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, errMissingToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}
	sub, _ := claims["userId"].(string)
	if sub == "" {
		if sub, err = claims.GetSubject(); err != nil {
			return uuid.Nil, err
		}
	}
	id, err := uuid.Parse(sub)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("token subject is not a user id")
	}
	return id, nil
}

// UserIDFromContext returns the id Authenticate stored.
func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDContextKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
