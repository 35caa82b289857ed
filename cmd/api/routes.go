package main

import (
	"net/http"

	"sales-pipeline/internal/httpapi"
	"sales-pipeline/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
// Outside development tokens are only minted for an authenticated admin.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, metrics http.Handler, openTokens bool) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	if openTokens {
		r.POST("/auth/token", h.IssueToken)
	} else {
		r.POST("/auth/token", authMW, rbac.RequireIdentity(), rbac.RequireAnyRole(rbac.RoleAdmin), h.IssueToken)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireIdentity())
	{
		v1.GET("/me", h.Me)

		leads := v1.Group("/leads")
		{
			// Read access for every pipeline role.
			read := rbac.RequireAnyRole(rbac.AllRoles()...)
			leads.GET("", read, h.ListLeads)
			leads.GET("/stages", read, h.Stages)
			leads.GET("/next-ticket-id", rbac.RequireAnyRole(rbac.RoleResearch), h.NextTicketID)
			leads.GET("/:ticket_id", read, h.GetLead)

			// One stage handler per role; admin may act on any stage.
			leads.POST("/research", rbac.RequireAnyRole(rbac.RoleResearch), h.SubmitResearch)
			leads.POST("/:ticket_id/approval", rbac.RequireAnyRole(rbac.RoleCoordinator), h.SubmitApproval)
			leads.POST("/:ticket_id/telecall", rbac.RequireAnyRole(rbac.RoleTelecaller), h.SubmitTelecall)
			leads.POST("/:ticket_id/meeting", rbac.RequireAnyRole(rbac.RoleSales), h.SubmitMeeting)
			leads.POST("/:ticket_id/crm", rbac.RequireAnyRole(rbac.RoleCRM), h.SubmitCrm)
		}
	}
}
