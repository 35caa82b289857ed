package httpapi

import (
	"net/http"
	"strings"
	"time"

	"sales-pipeline/internal/auth"
	"sales-pipeline/internal/leads"
	"sales-pipeline/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call internal services, return JSON.
type Handlers struct {
	Auth  *auth.Manager
	Leads *leads.Service
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type tokenRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IssueToken issues a JWT token pair.
//
// NOTE: Open only in development. Elsewhere the route sits behind an admin
// token.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "auth not configured", Code: "internal"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Role = strings.TrimSpace(req.Role)
	if req.Username == "" || req.Role == "" {
		badRequest(c, "username and role required")
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		badRequest(c, "unknown role")
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.Username, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "token issuance failed", Code: "internal"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller identity.
func (h Handlers) Me(c *gin.Context) {
	u, _ := auth.Username(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"username": u, "role": role})
}
