package middleware

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/drippay/backend/internal/cache"
	"github.com/drippay/backend/internal/config"
	apierrors "github.com/drippay/backend/internal/errors"
	"github.com/drippay/backend/internal/logging"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys for storing caller information
const (
	ContextKeyIdentity  = "identity"
	ContextKeyRequestID = "request_id"
)

// Claims represents the identity provider's access token claims.
// The subject is the caller identity (privyId).
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JWT validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSubject    = errors.New("token has no subject")
)

// JWTAuthenticator verifies bearer tokens
type JWTAuthenticator struct {
	config    *config.JWTConfig
	publicKey *ecdsa.PublicKey
	parser    *jwt.Parser
}

// NewJWTAuthenticator creates a new JWT authenticator. When a PEM verification key is
// configured tokens must be ES256; otherwise HS256 with the shared secret is accepted.
func NewJWTAuthenticator(cfg *config.JWTConfig) (*JWTAuthenticator, error) {
	a := &JWTAuthenticator{config: cfg}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.VerificationKey != "" {
		key, err := jwt.ParseECPublicKeyFromPEM([]byte(cfg.VerificationKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse verification key: %w", err)
		}
		a.publicKey = key
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	} else {
		if cfg.Secret == "" {
			return nil, fmt.Errorf("either a verification key or a secret is required")
		}
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	a.parser = jwt.NewParser(opts...)
	return a, nil
}

// JWTAuth creates a middleware that validates the bearer token from the Authorization header
// and stores the subject as the caller identity
func (j *JWTAuthenticator) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			logging.LogSecurityEvent("token_rejected", "", c.ClientIP(), err.Error())
			if errors.Is(err, ErrTokenExpired) {
				respondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				respondWithError(c, apierrors.ErrInvalidCredentialsError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, claims.Subject)

		c.Next()
	}
}

// ValidateToken verifies signature, expiry, issuer and audience and returns the claims
func (j *JWTAuthenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := j.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if j.publicKey != nil {
			return j.publicKey, nil
		}
		return []byte(j.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) {
		return "", ErrInvalidToken
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(err, GetRequestIDFromContext(c)))
}

// GetIdentityFromContext returns the verified caller identity, or "" when unauthenticated
func GetIdentityFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyIdentity)
}

// GetRequestIDFromContext extracts the request ID from the gin context
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CORS echoes an allowed origin back with credentials enabled
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		if origin != "" {
			for _, o := range allowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RateLimit limits requests per caller identity, or per client IP before authentication
func RateLimit(limiter *cache.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if identity := GetIdentityFromContext(c); identity != "" {
			key = "id:" + identity
		}

		result := limiter.Check(c.Request.Context(), key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			monitoring.RecordRateLimitHit()
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			respondWithError(c, apierrors.ErrRateLimitedError)
			c.Abort()
			return
		}
		c.Next()
	}
}
