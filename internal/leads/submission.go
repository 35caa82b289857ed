package leads

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// Submission is the payload of one stage handler. The set of implementations
// is closed: Research, Approval, Telecall, Meeting and Crm submissions.
type Submission interface {
	// Stage is the stage a lead must be in for this submission to apply.
	Stage() Stage
	// HistoryNotes is copied into the stage history row when the stage changes.
	HistoryNotes() string
	isSubmission()
}

type ResearchSubmission struct {
	// TicketID is optional; a new ID is generated when empty.
	TicketID        string `json:"ticket_id,omitempty" validate:"max=32"`
	Company         string `json:"company" validate:"required,max=200"`
	ContactName     string `json:"contact_name,omitempty" validate:"max=120"`
	Mobile          string `json:"mobile,omitempty" validate:"max=32"`
	Email           string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Region          string `json:"region,omitempty" validate:"max=120"`
	Industry        string `json:"industry,omitempty" validate:"max=120"`
	EstimatedBudget int64  `json:"estimated_budget" validate:"gte=0"`
	Notes           string `json:"notes,omitempty" validate:"max=4000"`
}

type ApprovalSubmission struct {
	ApproveStatus        ApproveStatus `json:"approve_status" validate:"required,oneof=PENDING ACCEPTED REJECTED"`
	TelecallerAssignedTo string        `json:"telecaller_assigned_to,omitempty" validate:"max=120"`
	Remarks              string        `json:"remarks,omitempty" validate:"max=4000"`
}

type TelecallSubmission struct {
	CallNotes       string     `json:"call_notes,omitempty" validate:"max=4000"`
	MeetingType     string     `json:"meeting_type" validate:"required,max=64"`
	MeetingDateTime *time.Time `json:"meeting_date_time"`
	MeetingAssignee string     `json:"meeting_assignee" validate:"required,max=120"`
}

type MeetingOutcome string

const (
	MeetingOutcomeCRMFollowUp MeetingOutcome = "CRM_FOLLOW_UP"
	MeetingOutcomeReschedule  MeetingOutcome = "RESCHEDULE_MEETING"
	MeetingOutcomeApprove     MeetingOutcome = "APPROVE"
	MeetingOutcomeReject      MeetingOutcome = "REJECT"
)

type MeetingSubmission struct {
	Outcome         MeetingOutcome `json:"outcome" validate:"required,oneof=CRM_FOLLOW_UP RESCHEDULE_MEETING APPROVE REJECT"`
	Notes           string         `json:"notes,omitempty" validate:"max=4000"`
	MeetingType     string         `json:"meeting_type,omitempty" validate:"max=64"`
	MeetingDateTime *time.Time     `json:"meeting_date_time,omitempty"`
	NextFollowUpOn  *time.Time     `json:"next_follow_up_on,omitempty"`
	ActualBudget    *int64         `json:"actual_budget,omitempty" validate:"omitempty,gte=0"`
	CrmAssignedTo   string         `json:"crm_assigned_to,omitempty" validate:"max=120"`
}

type CrmOutcome string

const (
	CrmOutcomeHold       CrmOutcome = "HOLD"
	CrmOutcomeApprove    CrmOutcome = "APPROVE"
	CrmOutcomeReject     CrmOutcome = "REJECT"
	CrmOutcomeReschedule CrmOutcome = "RESCHEDULE_MEETING"
)

type CrmSubmission struct {
	Outcome         CrmOutcome `json:"outcome" validate:"required,oneof=HOLD APPROVE REJECT RESCHEDULE_MEETING"`
	Notes           string     `json:"notes,omitempty" validate:"max=4000"`
	MeetingType     string     `json:"meeting_type,omitempty" validate:"max=64"`
	MeetingDateTime *time.Time `json:"meeting_date_time,omitempty"`
	MeetingAssignee string     `json:"meeting_assignee,omitempty" validate:"max=120"`
	NextFollowUpOn  *time.Time `json:"next_follow_up_on,omitempty"`
}

func (ResearchSubmission) Stage() Stage { return StageResearch }
func (ApprovalSubmission) Stage() Stage { return StageApproval }
func (TelecallSubmission) Stage() Stage { return StageTelecall }
func (MeetingSubmission) Stage() Stage  { return StageMeeting }
func (CrmSubmission) Stage() Stage      { return StageCRM }

func (s ResearchSubmission) HistoryNotes() string { return s.Notes }
func (s ApprovalSubmission) HistoryNotes() string { return s.Remarks }
func (s TelecallSubmission) HistoryNotes() string { return s.CallNotes }
func (s MeetingSubmission) HistoryNotes() string  { return s.Notes }
func (s CrmSubmission) HistoryNotes() string      { return s.Notes }

func (ResearchSubmission) isSubmission() {}
func (ApprovalSubmission) isSubmission() {}
func (TelecallSubmission) isSubmission() {}
func (MeetingSubmission) isSubmission()  {}
func (CrmSubmission) isSubmission()      {}

const defaultPhoneRegion = "IN"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so errors match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// prepare trims, normalizes and validates a submission.
// Conditionally required fields are checked per outcome.
func prepare(sub Submission) (Submission, error) {
	switch s := sub.(type) {
	case ResearchSubmission:
		return s.prepare()
	case ApprovalSubmission:
		return s.prepare()
	case TelecallSubmission:
		return s.prepare()
	case MeetingSubmission:
		return s.prepare()
	case CrmSubmission:
		return s.prepare()
	case nil:
		return nil, invalidField("payload", "is required")
	default:
		return nil, fmt.Errorf("leads: unsupported submission %T", sub)
	}
}

func (s ResearchSubmission) prepare() (Submission, error) {
	s.TicketID = strings.ToUpper(strings.TrimSpace(s.TicketID))
	s.Company = strings.TrimSpace(s.Company)
	s.ContactName = strings.TrimSpace(s.ContactName)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.Region = strings.TrimSpace(s.Region)
	s.Industry = strings.TrimSpace(s.Industry)
	s.Notes = strings.TrimSpace(s.Notes)

	verr := structErrors(s)
	if s.TicketID != "" && !ValidTicketID(s.TicketID) {
		verr.add("ticket_id", "must look like T-YYYYMMDD-NNNN")
	}
	mobile, err := normalizeMobile(s.Mobile)
	if err != nil {
		verr.add("mobile", "must be a phone number")
	}
	s.Mobile = mobile
	return s, verr.orNil()
}

func (s ApprovalSubmission) prepare() (Submission, error) {
	s.ApproveStatus = ApproveStatus(strings.ToUpper(strings.TrimSpace(string(s.ApproveStatus))))
	s.TelecallerAssignedTo = strings.TrimSpace(s.TelecallerAssignedTo)
	s.Remarks = strings.TrimSpace(s.Remarks)

	verr := structErrors(s)
	if s.ApproveStatus == ApproveStatusAccepted && s.TelecallerAssignedTo == "" {
		verr.add("telecaller_assigned_to", "is required when approve_status is ACCEPTED")
	}
	return s, verr.orNil()
}

func (s TelecallSubmission) prepare() (Submission, error) {
	s.CallNotes = strings.TrimSpace(s.CallNotes)
	s.MeetingType = strings.TrimSpace(s.MeetingType)
	s.MeetingAssignee = strings.TrimSpace(s.MeetingAssignee)

	verr := structErrors(s)
	if s.MeetingDateTime == nil || s.MeetingDateTime.IsZero() {
		verr.add("meeting_date_time", "is required")
	}
	return s, verr.orNil()
}

func (s MeetingSubmission) prepare() (Submission, error) {
	s.Outcome = MeetingOutcome(strings.ToUpper(strings.TrimSpace(string(s.Outcome))))
	s.Notes = strings.TrimSpace(s.Notes)
	s.MeetingType = strings.TrimSpace(s.MeetingType)
	s.CrmAssignedTo = strings.TrimSpace(s.CrmAssignedTo)

	verr := structErrors(s)
	switch s.Outcome {
	case MeetingOutcomeCRMFollowUp:
		if isZeroTime(s.NextFollowUpOn) {
			verr.add("next_follow_up_on", "is required when outcome is CRM_FOLLOW_UP")
		}
	case MeetingOutcomeReschedule:
		requireMeetingSlot(verr, s.MeetingType, s.MeetingDateTime)
	case MeetingOutcomeApprove, MeetingOutcomeReject:
	}
	return s, verr.orNil()
}

func (s CrmSubmission) prepare() (Submission, error) {
	s.Outcome = CrmOutcome(strings.ToUpper(strings.TrimSpace(string(s.Outcome))))
	s.Notes = strings.TrimSpace(s.Notes)
	s.MeetingType = strings.TrimSpace(s.MeetingType)
	s.MeetingAssignee = strings.TrimSpace(s.MeetingAssignee)

	verr := structErrors(s)
	switch s.Outcome {
	case CrmOutcomeReschedule:
		requireMeetingSlot(verr, s.MeetingType, s.MeetingDateTime)
	case CrmOutcomeHold, CrmOutcomeApprove, CrmOutcomeReject:
	}
	return s, verr.orNil()
}

func requireMeetingSlot(verr *ValidationError, meetingType string, at *time.Time) {
	if meetingType == "" {
		verr.add("meeting_type", "is required when outcome is RESCHEDULE_MEETING")
	}
	if isZeroTime(at) {
		verr.add("meeting_date_time", "is required when outcome is RESCHEDULE_MEETING")
	}
}

func isZeroTime(t *time.Time) bool { return t == nil || t.IsZero() }

// structErrors runs the tag rules and converts failures into a ValidationError.
func structErrors(s any) *ValidationError {
	verr := &ValidationError{}
	err := validate.Struct(s)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("payload", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), describeRule(fe))
	}
	return verr
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// normalizeMobile formats numbers as E.164. Numbers that parse but are not
// valid for their region are kept as typed.
func normalizeMobile(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(trimmed, defaultPhoneRegion)
	if err != nil {
		return trimmed, err
	}
	if !phonenumbers.IsValidNumber(num) {
		return trimmed, nil
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
