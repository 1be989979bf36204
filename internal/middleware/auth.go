package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/scheduling-api/internal/model"
	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/httputil"
)

const (
	ContextUserID   = "user_id"
	ContextUserRole = "user_role"
)

// Claims carried by bearer tokens issued by the identity provider
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity verifies an HS256 bearer token and stores its subject and role in
// the context. With an empty secret every request passes through untouched and
// handlers fall back to the ids in the request.
func Identity(secret string, opts ...jwt.ParserOption) gin.HandlerFunc {
	key := []byte(secret)
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			httputil.RespondWithError(c, apperrors.NewUnauthorized("missing authorization header"))
			return
		}

		var claims Claims
		token, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			httputil.RespondWithError(c, apperrors.NewUnauthorized("invalid token"))
			return
		}
		if claims.Subject == "" || !claims.Role.Valid() {
			httputil.RespondWithError(c, apperrors.NewUnauthorized("token must carry sub and a patient or doctor role"))
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// CurrentUser returns the authenticated caller, if any
func CurrentUser(c *gin.Context) (string, model.Role, bool) {
	id := c.GetString(ContextUserID)
	if id == "" {
		return "", "", false
	}
	role, _ := c.Get(ContextUserRole)
	r, _ := role.(model.Role)
	return id, r, true
}
