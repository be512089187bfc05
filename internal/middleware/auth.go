package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys set by Auth
const (
	userIDKey    = "user_id"
	userTierKey  = "user_tier"
	userNamesKey = "user_names"
	requestIDKey = "request_id"
)

// Claims are the JWT claims issued to readers
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Tier   string    `json:"tier"`
	// Name is the display name; telemetry redacts it
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs claims for userID; used by the operator CLI and tests
func IssueToken(secret string, userID uuid.UUID, tier, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Tier:   tier,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID.String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth validates the bearer token and stores the requester in the gin context
func Auth(jwtSecret string, logger *zap.Logger) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			logger.Warn("JWT parse failed", zap.Error(err))
			Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || !token.Valid || claims.UserID == uuid.Nil {
			Unauthorized(c, "invalid token claims")
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userTierKey, claims.Tier)
		if claims.Name != "" {
			c.Set(userNamesKey, []string{claims.Name})
		}
		c.Next()
	}
}

// GetUserID returns the authenticated requester
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetTier returns the requester's plan tier, empty when unknown
func GetTier(c *gin.Context) string {
	return c.GetString(userTierKey)
}

// GetKnownNames returns identifiers from the token that telemetry must redact
func GetKnownNames(c *gin.Context) []string {
	return c.GetStringSlice(userNamesKey)
}

// RequestID assigns X-Request-ID, reusing a well-formed inbound value
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// CORS allows browser clients from any origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
