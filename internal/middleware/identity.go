package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDKey is the gin context key holding the resolved caller identity.
const UserIDKey = "user_id"

var (
	ErrMissingToken = errors.New("authorization header is required")
	ErrInvalidToken = errors.New("token validation failed")
	ErrNoIdentity   = errors.New("token carries no subject")
)

// IdentityResolver turns an incoming request into the caller's stable
// identifier, or an error when there is none.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// JWTResolver verifies HMAC-signed bearer tokens issued by the identity
// provider. The identity is the sub claim, falling back to user_id.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

func (r *JWTResolver) Resolve(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(tokenStr) == "" {
		return "", fmt.Errorf("%w: authorization header must use Bearer token", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	_, err := r.parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if sub, err := claims.GetSubject(); err == nil && strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub), nil
	}
	if userID, ok := claims["user_id"].(string); ok && strings.TrimSpace(userID) != "" {
		return strings.TrimSpace(userID), nil
	}

	return "", ErrNoIdentity
}

// RequireIdentity rejects requests without a resolvable identity and
// stores the identity under UserIDKey for downstream handlers.
func RequireIdentity(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := resolver.Resolve(c.Request)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrMissingToken) {
				code = "missing_token"
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": "authentication required",
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity stored by RequireIdentity, or "".
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
