package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-cms/audittrail/pkg/contextkeys"
)

// Capabilities granted by the host's RBAC subsystem. The host decides who
// holds what; this service only consumes the decision.
const (
	CapabilityRead        = "audit-logs.read"
	CapabilityReadDetails = "audit-logs.read-details"
	CapabilityAdmin       = "audit-logs.admin"
	CapabilityIngest      = "audit-logs.ingest"
)

// Identity headers set by the host admin gateway in front of this service.
const (
	HeaderUserID       = "X-Auth-User-Id"
	HeaderUserName     = "X-Auth-User-Name"
	HeaderCapabilities = "X-Auth-Capabilities"
)

// AuthContext carries the host-authenticated caller identity.
type AuthContext struct {
	UserID       int64
	UserName     string
	capabilities map[string]struct{}
}

// Has reports whether the caller holds the given capability.
func (a *AuthContext) Has(capability string) bool {
	if a == nil {
		return false
	}
	_, ok := a.capabilities[capability]
	return ok
}

// AuthMiddleware extracts the caller identity from the host-supplied
// headers. Authentication itself happens upstream in the host; a request
// arriving without identity headers was not authenticated.
type AuthMiddleware struct{}

// NewAuthMiddleware creates the identity-extraction middleware.
func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{}
}

// Handler wraps an HTTP handler with identity extraction.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userIDHeader := r.Header.Get(HeaderUserID)
		if userIDHeader == "" {
			unauthenticatedResponse(w, "missing authentication")
			return
		}
		userID, err := strconv.ParseInt(userIDHeader, 10, 64)
		if err != nil {
			unauthenticatedResponse(w, "invalid user identity")
			return
		}

		authCtx := &AuthContext{
			UserID:       userID,
			UserName:     r.Header.Get(HeaderUserName),
			capabilities: make(map[string]struct{}),
		}
		for _, capability := range strings.Split(r.Header.Get(HeaderCapabilities), ",") {
			capability = strings.TrimSpace(capability)
			if capability != "" {
				authCtx.capabilities[capability] = struct{}{}
			}
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext retrieves the caller identity from the request, or nil.
func GetAuthContext(r *http.Request) *AuthContext {
	if authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// HasCapability reports whether the request's caller holds a capability.
func HasCapability(r *http.Request, capability string) bool {
	return GetAuthContext(r).Has(capability)
}

// RequireCapability gates a route on a capability: 401 without an identity,
// 403 without the capability.
func RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				unauthenticatedResponse(w, "missing authentication")
				return
			}
			if !authCtx.Has(capability) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{"error": "insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthenticatedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
