package review

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// editorFields names the fields each editor owns.
var editorFields = map[domain.Editor]struct {
	comment   string
	signature string
}{
	domain.EditorCreditOfficer: {domain.FieldCreditOfficerComment, domain.FieldCreditOfficerName},
	domain.EditorAMLRO:         {domain.FieldAMLROComments, domain.FieldAMLROName},
	domain.EditorHeadOfCredit:  {domain.FieldHeadOfCredit, domain.FieldHeadOfCreditName},
	domain.EditorBranchManager: {domain.FieldBranchManager, domain.FieldBranchManagerName},
	domain.EditorApprover:      {domain.FieldApprover1Comments, domain.FieldApprover1Name},
}

// pipeline is the ordered list of known stages.
var pipeline = []string{
	domain.StageNew,
	domain.StageAssessment,
	domain.StageCompliance,
	domain.StageFirst,
	domain.StageSecond,
	domain.StageApproval,
}

func stageIndex(stage string) int {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return 0
	}
	for i, s := range pipeline {
		if strings.EqualFold(s, stage) {
			return i
		}
	}
	return -1
}

// advanceWithinPending moves one step along the pipeline without leaving
// the reviewer stages. Unknown stages are kept as they are.
func advanceWithinPending(stage string) string {
	i := stageIndex(stage)
	last := stageIndex(domain.StageSecond)
	switch {
	case i < 0:
		return stage
	case i >= last:
		return domain.StageSecond
	default:
		return pipeline[i+1]
	}
}

// ComputeTransition validates action for a user with job title role against
// an application in status/stage and returns the resulting transition.
//
// Rejections are *Error values: ErrInvalidRequest for an unknown action or a
// missing payload, ErrTerminalState for approved applications (checked before
// the caller's role), and ErrNotAuthorized whenever ResolveView would not
// enable the action's button.
func ComputeTransition(status, stage, role, action string, p domain.TransitionPayload) (*domain.Transition, error) {
	act, ok := domain.ParseAction(action)
	if !ok {
		return nil, invalidRequest(fmt.Sprintf("unknown action %q", action))
	}

	st, _ := domain.ParseStatus(status)
	if st == domain.StatusApproved {
		return nil, terminal("approved applications accept no further actions")
	}

	roles := NormalizeRole(role)
	view := resolve(st, stage, roles)
	if !view.Allows(act) {
		return nil, notAuthorized(fmt.Sprintf("role %q cannot %s an application in %s", role, act, st))
	}

	s, err := actingSeat(st, roles, act, p.Editor)
	if err != nil {
		return nil, err
	}
	fields := editorFields[s.editor]

	tr := &domain.Transition{
		Action:          act,
		Editor:          s.editor,
		FromStatus:      st,
		FromStage:       stage,
		FieldsToPersist: map[string]string{fields.comment: p.Comment},
	}

	switch act {
	case domain.ActionSubmit:
		switch {
		case tableStatus(st) == domain.StatusNew:
			tr.NewStatus, tr.NewStage = domain.StatusPending, domain.StageAssessment
		case s.editor == domain.EditorBranchManager:
			tr.NewStatus, tr.NewStage = domain.StatusPendingApproval, domain.StageApproval
		default:
			tr.NewStatus, tr.NewStage = domain.StatusPending, advanceWithinPending(stage)
		}

	case domain.ActionApprove:
		if p.Signature == nil || strings.TrimSpace(p.Signature.Name) == "" {
			return nil, invalidRequest("approval requires a signature name")
		}
		tr.FieldsToPersist[fields.signature] = strings.TrimSpace(p.Signature.Name)
		tr.FieldsToPersist[fields.signature+domain.SignedAtSuffix] = p.Signature.Date
		if st == domain.StatusPending {
			tr.NewStatus = domain.StatusPendingApproval
		} else {
			tr.NewStatus = domain.StatusApproved
		}
		tr.NewStage = domain.StageApproval

	case domain.ActionRevert:
		target := strings.TrimSpace(p.TargetStage)
		if target == "" {
			return nil, invalidRequest("revert requires a target stage")
		}
		tr.NewStatus, tr.NewStage = domain.StatusReverted, target
		if p.TargetStatus != "" {
			ts, ok := domain.ParseStatus(p.TargetStatus)
			if !ok || ts == domain.StatusApproved {
				return nil, invalidRequest(fmt.Sprintf("invalid revert status %q", p.TargetStatus))
			}
			tr.NewStatus = ts
		}
	}

	return tr, nil
}

// actingSeat picks the seat whose editor performs act. An explicitly
// requested editor must be open to the caller; otherwise the first seat in
// table order that offers act is used.
func actingSeat(st domain.Status, roles domain.Roles, act domain.Action, want domain.Editor) (seat, error) {
	for _, s := range matching(st, roles) {
		if want != "" && s.editor != want {
			continue
		}
		for _, a := range s.actions {
			if a == act {
				return s, nil
			}
		}
	}
	if want != "" {
		return seat{}, notAuthorized(fmt.Sprintf("editor %q cannot %s an application in %s", want, act, st))
	}
	// unreachable while the view and the seats agree
	return seat{}, notAuthorized(fmt.Sprintf("no editor can %s an application in %s", act, st))
}
