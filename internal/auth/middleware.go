package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims is the operator identity extracted from a bearer token
type Claims struct {
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

type contextKey string

const UserContextKey contextKey = "user"

var (
	ErrMissingToken = errors.New("missing token")
	ErrNoVerifier   = errors.New("no token verifier configured")
)

// Options selects how tokens are verified. Issuer wins over Secret.
type Options struct {
	// Secret verifies HS256 tokens
	Secret string

	// Issuer is an OIDC issuer whose JWKS verifies RS/ES tokens
	Issuer string

	// SkipAuth admits every request as a development admin
	SkipAuth bool
}

// Authenticator validates bearer tokens for the operator API
type Authenticator struct {
	keyfunc jwt.Keyfunc
	methods []string
	issuer  string
	skip    bool
	logger  zerolog.Logger
}

// New creates an Authenticator. With an issuer it fetches the issuer's JWKS
// once and keeps it refreshed in the background.
func New(opts Options, logger zerolog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		skip:   opts.SkipAuth,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	switch {
	case opts.Issuer != "":
		// Construct JWKS URL (Keycloak format)
		jwksURL := strings.TrimSuffix(opts.Issuer, "/") + "/protocol/openid-connect/certs"
		a.logger.Info().Str("jwks_url", jwksURL).Msg("fetching JWKS")

		k, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create keyfunc: %w", err)
		}
		a.keyfunc = k.Keyfunc
		a.methods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}
		a.issuer = opts.Issuer

	case opts.Secret != "":
		secret := []byte(opts.Secret)
		a.keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
		a.methods = []string{"HS256"}

	case !opts.SkipAuth:
		a.logger.Warn().Msg("no ADMIN_JWT_SECRET or OIDC_ISSUER configured, operator API will refuse every request")
	}

	return a, nil
}

// Middleware validates the bearer token and stores the claims in the context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// In development mode, you can bypass auth
		if a.skip {
			ctx := context.WithValue(r.Context(), UserContextKey, &Claims{
				Email:  "dev@livetalk.local",
				Name:   "Dev User",
				Role:   "admin",
				Groups: []string{"developers"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := a.Authenticate(r)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		a.logger.Debug().Str("email", claims.Email).Str("role", claims.Role).Msg("operator authenticated")

		// Add user to context
		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate extracts and validates the request's token
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return a.validateToken(tokenString)
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Try query parameter
	return r.URL.Query().Get("token")
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	if a.keyfunc == nil {
		return nil, ErrNoVerifier
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(a.methods)}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.Parse(tokenString, a.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{
		Groups: extractGroupsFromMapClaims(mapClaims),
		Role:   extractRoleFromMapClaims(mapClaims),
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil {
		claims.ExpiresAt = exp
	}

	return claims, nil
}

// extractRoleFromMapClaims extracts role from various possible token claim locations
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) string {
	// A plain role claim, as issued with ADMIN_JWT_SECRET
	if role, ok := mapClaims["role"].(string); ok && role != "" {
		return role
	}

	// Check realm_access.roles (Keycloak)
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			// Priority order: admin > supervisor > agent > viewer
			for _, priority := range []string{"admin", "supervisor", "agent", "viewer"} {
				for _, role := range roles {
					if roleStr, ok := role.(string); ok && roleStr == priority {
						return roleStr
					}
				}
			}
		}
	}

	// Check cognito:groups (AWS Cognito)
	if cognitoGroups, ok := mapClaims["cognito:groups"].([]interface{}); ok {
		for _, group := range cognitoGroups {
			if groupStr, ok := group.(string); ok {
				if strings.Contains(groupStr, "admin") {
					return "admin"
				}
				if strings.Contains(groupStr, "supervisor") {
					return "supervisor"
				}
			}
		}
	}

	return "viewer" // default role
}

// extractGroupsFromMapClaims extracts groups from token claims
func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string

	for _, claim := range []string{"groups", "cognito:groups"} {
		if list, ok := mapClaims[claim].([]interface{}); ok {
			for _, group := range list {
				if groupStr, ok := group.(string); ok {
					groups = append(groups, groupStr)
				}
			}
		}
	}

	return groups
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// HasRole checks if user has specific role
func HasRole(claims *Claims, role string) bool {
	return claims.Role == role
}

// InGroup checks if user is in specific group
func InGroup(claims *Claims, group string) bool {
	for _, g := range claims.Groups {
		if g == group {
			return true
		}
	}
	return false
}
