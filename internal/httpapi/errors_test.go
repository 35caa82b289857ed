package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sales-pipeline/internal/leads"

	"github.com/gin-gonic/gin"
)

func TestWriteError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		code int
		body string
	}{
		{&leads.ValidationError{Fields: []leads.FieldError{{Field: "company", Message: "is required"}}}, http.StatusBadRequest, `"validation_error"`},
		{fmt.Errorf("load: %w", leads.ErrNotFound), http.StatusNotFound, `"not_found"`},
		{leads.ErrDuplicateTicket, http.StatusConflict, `"duplicate_ticket"`},
		{leads.ErrTicketSequenceExhausted, http.StatusServiceUnavailable, `"ticket_sequence_exhausted"`},
		{&leads.TransactionError{Op: "commit", Err: errors.New("conn reset")}, http.StatusInternalServerError, `"transaction_failed"`},
		{errors.New("boom"), http.StatusInternalServerError, `"internal"`},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeError(c, tc.err)

		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
		if !strings.Contains(w.Body.String(), tc.body) {
			t.Fatalf("%v: expected %s in %s", tc.err, tc.body, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "conn reset") {
			t.Fatalf("storage internals leaked: %s", w.Body.String())
		}
	}
}
