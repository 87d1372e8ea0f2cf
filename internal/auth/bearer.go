// Package auth guards the SCIM surface with bearer-token authentication.
// Two modes are supported: a static shared secret compared in constant
// time, and HS256 JWTs verified against a signing secret. JWT mode is
// enabled by configuring a jwt_secret and takes precedence.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Verifier checks bearer tokens presented on incoming requests.
type Verifier struct {
	secret    string
	jwtSecret []byte
	logger    *zap.Logger
}

// NewVerifier builds a verifier from the configured secrets. With an empty
// jwtSecret, only the static secret is accepted.
func NewVerifier(secret, jwtSecret string, logger *zap.Logger) *Verifier {
	v := &Verifier{secret: secret, logger: logger}
	if jwtSecret != "" {
		v.jwtSecret = []byte(jwtSecret)
	}
	return v
}

// Middleware rejects requests that do not carry a valid bearer token.
// Responses use the SCIM error envelope so unauthenticated clients still
// get a parseable body.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !v.verify(token) {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:Error"},
				"status":  http.StatusUnauthorized,
				"detail":  "invalid or missing bearer token",
			})
			return
		}
		c.Next()
	}
}

func (v *Verifier) verify(token string) bool {
	if len(v.jwtSecret) > 0 {
		return v.verifyJWT(token)
	}
	if v.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) == 1
}

func (v *Verifier) verifyJWT(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		v.logger.Debug("jwt verification failed", zap.Error(err))
		return false
	}
	return parsed.Valid
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
