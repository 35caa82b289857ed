package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"sales-pipeline/internal/auth"
	"sales-pipeline/internal/leads"

	"github.com/gin-gonic/gin"
)

type nextTicketResponse struct {
	TicketID string `json:"ticket_id"`
}

// NextTicketID returns the id a new research entry is expected to receive.
func (h Handlers) NextTicketID(c *gin.Context) {
	id, err := h.Leads.NextTicketID(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nextTicketResponse{TicketID: id})
}

// Stages lists the pipeline stages with their display labels.
func (h Handlers) Stages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stages": leads.Stages()})
}

type listResponse struct {
	Leads  []leads.Lead `json:"leads"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (h Handlers) ListLeads(c *gin.Context) {
	f := leads.ListFilter{
		Stage:        leads.Stage(c.Query("stage")),
		ClientStatus: leads.ClientStatus(strings.ToUpper(strings.TrimSpace(c.Query("client_status")))),
		Assignee:     c.Query("assignee"),
		Query:        c.Query("q"),
	}
	if f.Stage != "" {
		s, err := leads.ParseStage(string(f.Stage))
		if err != nil {
			badRequest(c, "unknown stage")
			return
		}
		f.Stage = s
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}

	out, err := h.Leads.ListLeads(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Leads: out, Limit: f.Limit, Offset: f.Offset})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h Handlers) GetLead(c *gin.Context) {
	detail, err := h.Leads.GetLead(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h Handlers) SubmitResearch(c *gin.Context) { submit[leads.ResearchSubmission](h, c) }
func (h Handlers) SubmitApproval(c *gin.Context) { submit[leads.ApprovalSubmission](h, c) }
func (h Handlers) SubmitTelecall(c *gin.Context) { submit[leads.TelecallSubmission](h, c) }
func (h Handlers) SubmitMeeting(c *gin.Context)  { submit[leads.MeetingSubmission](h, c) }
func (h Handlers) SubmitCrm(c *gin.Context)      { submit[leads.CrmSubmission](h, c) }

// submit binds the stage payload and runs it as the authenticated user.
// Research has no :ticket_id path param; its id comes from the body or is generated.
func submit[T leads.Submission](h Handlers, c *gin.Context) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	actor, err := auth.Username(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "username required", Code: "unauthorized"})
		return
	}

	res, err := h.Leads.Submit(c.Request.Context(), c.Param("ticket_id"), actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
