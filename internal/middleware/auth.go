package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

type contextKey string

const authContextKey contextKey = "authContext"

type AuthContext struct {
	UserID      string
	SessionID   string
	Role        auth.UserRole
	Email       string
	ProviderID  string
	IsOwner     bool
	Permissions []string
}

// Actor is the caller as seen by the fulfillment core.
func (a *AuthContext) Actor() fulfillment.Actor {
	return fulfillment.Actor{ID: a.UserID, ProviderID: a.ProviderID}
}

func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	value := ctx.Value(authContextKey)
	if value == nil {
		return nil, false
	}
	ac, ok := value.(*AuthContext)
	return ac, ok
}

// ActorAuthorizer turns a bearer token into an authenticated caller.
type ActorAuthorizer interface {
	AuthorizeActor(ctx context.Context, token string) (*AuthContext, error)
}

// JWTAuthorizer verifies HS256 access tokens issued by the identity service.
type JWTAuthorizer struct {
	Secret string
}

func (j JWTAuthorizer) AuthorizeActor(_ context.Context, token string) (*AuthContext, error) {
	claims, err := auth.VerifyAccessToken(token, j.Secret)
	if err != nil {
		return nil, err
	}
	ac := &AuthContext{
		UserID:      claims.UserID,
		SessionID:   claims.SessionID,
		Role:        claims.Role,
		Email:       claims.Email,
		IsOwner:     claims.Role == auth.RolePharmacyOwner,
		Permissions: claims.Permissions,
	}
	if claims.ProviderID != nil {
		ac.ProviderID = strings.TrimSpace(*claims.ProviderID)
	}
	return ac, nil
}

// writeAuthError adds the verification failure to the body in development.
func writeAuthError(w http.ResponseWriter, status int, message string, cause error) {
	code := "UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "FORBIDDEN"
	}
	var details map[string]any
	if cause != nil && os.Getenv("APP_ENV") == "development" {
		details = map[string]any{"debug": cause.Error()}
	}
	response.ErrorWithDetails(w, status, code, message, details)
}

func authenticate(w http.ResponseWriter, r *http.Request, authorizer ActorAuthorizer) (*AuthContext, bool) {
	token := auth.ParseBearerToken(r.Header.Get("Authorization"))
	ac, err := authorizer.AuthorizeActor(r.Context(), token)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "Authorization token required", err)
		return nil, false
	}
	return ac, true
}

func PatientAuth(authorizer ActorAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := authenticate(w, r, authorizer)
			if !ok {
				return
			}
			if ac.Role != auth.RolePatient {
				writeAuthError(w, http.StatusForbidden, "Patient access required", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

func StaffAuth(authorizer ActorAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := authenticate(w, r, authorizer)
			if !ok {
				return
			}
			if ac.Role != auth.RolePharmacyOwner && ac.Role != auth.RolePharmacyStaff {
				writeAuthError(w, http.StatusForbidden, "Pharmacy access required", nil)
				return
			}
			if ac.ProviderID == "" {
				writeAuthError(w, http.StatusUnauthorized, "Pharmacy not found", nil)
				return
			}

			if perm := auth.GetPermissionForAPI(r.URL.Path, r.Method); perm != nil {
				if !auth.HasPermission(ac.Role, ac.Permissions, *perm) {
					writeAuthError(w, http.StatusForbidden, "You do not have permission to access this resource", nil)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

func CourierAuth(authorizer ActorAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := authenticate(w, r, authorizer)
			if !ok {
				return
			}
			if ac.Role != auth.RoleCourier {
				writeAuthError(w, http.StatusForbidden, "Courier access required", nil)
				return
			}
			// Couriers act across providers.
			ac.ProviderID = ""
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}
