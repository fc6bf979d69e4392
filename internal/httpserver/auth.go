package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	adminRole           = "admin"
	adminClaimsKey      = "admin_claims"
	bearerPrefix        = "Bearer "
	headerAuthorization = "Authorization"
	headerWebhookSecret = "X-Webhook-Secret"
)

// AdminClaims are the JWT claims accepted on /admin routes.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// adminGuard requires an HS256 bearer token signed with the admin key, issued by issuer and carrying role=admin.
func adminGuard(signingKey []byte, issuer string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) { return signingKey, nil }
	return func(ctx *gin.Context) {
		rawHeader := ctx.GetHeader(headerAuthorization)
		if !strings.HasPrefix(rawHeader, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing bearer token"))
			return
		}
		claims := &AdminClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimPrefix(rawHeader, bearerPrefix), claims, keyFunc); err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid token"))
			return
		}
		if claims.Role != adminRole {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(codeForbidden, "admin role required"))
			return
		}
		ctx.Set(adminClaimsKey, claims)
		ctx.Next()
	}
}

// webhookGuard checks the shared secret header; an empty secret disables the check.
func webhookGuard(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if secret == "" {
			ctx.Next()
			return
		}
		provided := ctx.GetHeader(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid webhook secret"))
			return
		}
		ctx.Next()
	}
}

func adminSubject(ctx *gin.Context) string {
	value, ok := ctx.Get(adminClaimsKey)
	if !ok {
		return ""
	}
	claims, _ := value.(*AdminClaims)
	if claims == nil {
		return ""
	}
	return claims.Subject
}
