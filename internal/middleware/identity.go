package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
	"github.com/acadeon/curricula-api/pkg/config"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

// ContextActorKey is the gin context key storing the verified actor.
const ContextActorKey = "currentActor"

// identityClaims is the token payload minted by the upstream identity
// provider. The gateway verifies tokens and never issues them.
type identityClaims struct {
	jwt.RegisteredClaims
	FullName       string `json:"name"`
	Role           string `json:"role"`
	DepartmentCode string `json:"department_code"`
}

// Verifier checks bearer tokens against the identity provider's
// shared signing secret.
type Verifier struct {
	secret  []byte
	options []jwt.ParserOption
}

// NewVerifier builds a token verifier from configuration. Issuer and
// audience checks apply only when configured.
func NewVerifier(cfg config.IdentityConfig) *Verifier {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{secret: []byte(cfg.Secret), options: options}
}

// Verify parses and validates an access token, returning the actor it
// identifies.
func (v *Verifier) Verify(tokenString string) (models.Actor, error) {
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.options...)
	if err != nil {
		return models.Actor{}, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if !token.Valid {
		return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	actor := models.Actor{
		Subject:        claims.Subject,
		FullName:       claims.FullName,
		Role:           models.UserRole(claims.Role),
		DepartmentCode: claims.DepartmentCode,
	}
	if actor.Subject == "" {
		return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "token has no subject")
	}
	if !actor.Role.Valid() {
		return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "token carries an unknown role")
	}
	return actor, nil
}

// Identity protects routes by requiring a valid bearer token.
func Identity(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		actor, err := verifier.Verify(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextActorKey, actor)

		// Audit entries pick these up from the request context.
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentActor returns the actor stored by Identity.
func CurrentActor(c *gin.Context) (models.Actor, bool) {
	value, exists := c.Get(ContextActorKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	return actor, ok
}
