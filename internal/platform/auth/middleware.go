// Package auth validates bearer tokens and resolves the repository
// requester identity for each request.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/fhirstack/fhirstack/internal/accesspolicy"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/repo"
)

// Claims are the token claims the platform understands. Profile is the
// FHIR reference of the acting identity; project scopes every operation.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID  string `json:"project_id"`
	Profile    string `json:"profile"`
	Admin      bool   `json:"admin,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`
	OnBehalfOf string `json:"on_behalf_of,omitempty"`
	Membership string `json:"membership,omitempty"`
}

// JWTConfig configures token validation. SigningKey selects HMAC
// validation for development; otherwise keys come from the JWKS endpoint.
type JWTConfig struct {
	Issuer     string
	Audience   string
	JWKSURL    string
	SigningKey []byte
}

// PolicyResolver loads the effective access policy for validated claims.
// A nil resolver, or a nil policy, leaves the requester unrestricted
// within their project.
type PolicyResolver interface {
	ResolvePolicy(ctx context.Context, claims *Claims) (*accesspolicy.Policy, error)
}

// Middleware validates the bearer token and attaches the resolved
// Requester to the request context.
func Middleware(cfg JWTConfig, policies PolicyResolver) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyFunc = jwksKeyFunc(cfg.JWKSURL)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return unauthorized(c, "Missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return unauthorized(c, "Invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return unauthorized(c, "Invalid token")
			}
			if claims.Profile == "" {
				return unauthorized(c, "Token has no profile")
			}
			if !claims.Privileged && claims.ProjectID == "" {
				return unauthorized(c, "Token has no project")
			}

			requester, err := buildRequester(c.Request().Context(), claims, policies)
			if err != nil {
				return respondOutcome(c, err)
			}

			ctx := repo.WithRequester(c.Request().Context(), requester)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func buildRequester(ctx context.Context, claims *Claims, policies PolicyResolver) (*repo.Requester, error) {
	requester := &repo.Requester{
		Author:     fhir.Reference{Reference: claims.Profile},
		ProjectID:  claims.ProjectID,
		Admin:      claims.Admin,
		Privileged: claims.Privileged,
	}
	if claims.OnBehalfOf != "" {
		requester.OnBehalfOf = &fhir.Reference{Reference: claims.OnBehalfOf}
	}
	if policies != nil {
		policy, err := policies.ResolvePolicy(ctx, claims)
		if err != nil {
			return nil, err
		}
		requester.Policy = policy
	}
	return requester, nil
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, fhir.OutcomeForError(fhir.ErrorUnauthorized(message)))
}

func respondOutcome(c echo.Context, err error) error {
	return c.JSON(fhir.StatusForError(err), fhir.OutcomeForError(err))
}
