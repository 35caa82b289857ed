package leads

import (
	"fmt"
	"strings"
)

// Stage is a position in the sales pipeline.
// Keep the string values stable; they are persisted and part of the API.
type Stage string

const (
	StageResearch Stage = "RESEARCH"
	StageApproval Stage = "APPROVAL"
	StageTelecall Stage = "TELECALL"
	StageMeeting  Stage = "MEETING"
	StageCRM      Stage = "CRM"
	StageClosed   Stage = "CLOSED"
)

// StageInfo is the user-facing description of a stage.
// Guidance says what has to happen before a lead sitting at this stage can move on.
type StageInfo struct {
	Code     Stage  `json:"code"`
	Label    string `json:"label"`
	Guidance string `json:"guidance"`
}

var stageRegistry = []StageInfo{
	{Code: StageResearch, Label: "Research", Guidance: "the research team must submit the company research first"},
	{Code: StageApproval, Label: "Approval", Guidance: "a Sales Coordinator must review it first"},
	{Code: StageTelecall, Label: "Telecall", Guidance: "the assigned telecaller must call the client and schedule a meeting first"},
	{Code: StageMeeting, Label: "Meeting", Guidance: "the meeting assignee must record the meeting outcome first"},
	{Code: StageCRM, Label: "CRM Follow-up", Guidance: "the CRM team must record the follow-up outcome first"},
	{Code: StageClosed, Label: "Closed", Guidance: "the lead is closed and accepts no further actions"},
}

// Stages returns the registry in pipeline order.
func Stages() []StageInfo {
	out := make([]StageInfo, len(stageRegistry))
	copy(out, stageRegistry)
	return out
}

func (s Stage) info() (StageInfo, bool) {
	for _, i := range stageRegistry {
		if i.Code == s {
			return i, true
		}
	}
	return StageInfo{}, false
}

func (s Stage) Valid() bool {
	_, ok := s.info()
	return ok
}

// Label returns the human label, or the raw code for unknown stages.
func (s Stage) Label() string {
	if i, ok := s.info(); ok {
		return i.Label
	}
	return string(s)
}

func (s Stage) Guidance() string {
	if i, ok := s.info(); ok {
		return i.Guidance
	}
	return ""
}

// ParseStage accepts stage codes case-insensitively.
func ParseStage(v string) (Stage, error) {
	s := Stage(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

type ClientStatus string

const (
	ClientStatusOpen ClientStatus = "OPEN"
	ClientStatusWon  ClientStatus = "WON"
	ClientStatusLost ClientStatus = "LOST"
)

func (c ClientStatus) Valid() bool {
	switch c {
	case ClientStatusOpen, ClientStatusWon, ClientStatusLost:
		return true
	default:
		return false
	}
}

type ApproveStatus string

const (
	ApproveStatusPending  ApproveStatus = "PENDING"
	ApproveStatusAccepted ApproveStatus = "ACCEPTED"
	ApproveStatusRejected ApproveStatus = "REJECTED"
)
