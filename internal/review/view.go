// Package review decides what a reviewer may see and do with a loan
// application. It is pure: no I/O, no clock, no shared state.
package review

import (
	"strings"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// seat is one row of the visibility table.
type seat struct {
	status  domain.Status
	roles   domain.Roles
	editor  domain.Editor
	actions []domain.Action
}

// seats is evaluated top to bottom; row order also decides which editor acts
// when one caller sees several.
var seats = []seat{
	{domain.StatusNew, domain.RoleCreditOfficer, domain.EditorCreditOfficer,
		[]domain.Action{domain.ActionSubmit}},
	{domain.StatusPending, domain.RoleAMLRO, domain.EditorAMLRO,
		[]domain.Action{domain.ActionSubmit}},
	{domain.StatusPending, domain.RoleHeadOfCredit, domain.EditorHeadOfCredit,
		[]domain.Action{domain.ActionSubmit}},
	{domain.StatusPending, domain.RoleBranchManager, domain.EditorBranchManager,
		[]domain.Action{domain.ActionSubmit, domain.ActionApprove, domain.ActionRevert}},
	{domain.StatusPendingApproval, domain.RoleApprover, domain.EditorApprover,
		[]domain.Action{domain.ActionApprove, domain.ActionRevert}},
}

// tableStatus maps a status onto the row set it is evaluated against.
func tableStatus(s domain.Status) domain.Status {
	if s == domain.StatusReverted {
		return domain.StatusNew
	}
	return s
}

// matching returns the seats open to roles at status, in table order.
func matching(status domain.Status, roles domain.Roles) []seat {
	var out []seat
	row := tableStatus(status)
	for _, s := range seats {
		if s.status != row {
			continue
		}
		if roles.Has(s.roles) || roles.Has(domain.RoleAdmin) {
			out = append(out, s)
		}
	}
	return out
}

// ResolveView computes the review surface for a user with the given job
// title looking at an application in status/stage.
func ResolveView(status, stage, role string) domain.ViewPermissions {
	st, okStatus := domain.ParseStatus(status)
	roles := NormalizeRole(role)
	v := resolve(st, stage, roles)
	v.UnknownStatus = !okStatus
	v.UnknownRole = roles == 0
	return v
}

func resolve(status domain.Status, stage string, roles domain.Roles) domain.ViewPermissions {
	v := domain.ViewPermissions{
		EditorsVisible: []domain.Editor{},
		ButtonsEnabled: []domain.Action{},
	}

	enabled := map[domain.Action]bool{}
	for _, s := range matching(status, roles) {
		if !v.Shows(s.editor) {
			v.EditorsVisible = append(v.EditorsVisible, s.editor)
		}
		for _, a := range s.actions {
			enabled[a] = true
		}
	}
	for _, a := range domain.Actions {
		if enabled[a] {
			v.ButtonsEnabled = append(v.ButtonsEnabled, a)
		}
	}

	v.CommentSectionVisible = len(v.EditorsVisible) > 0
	v.SignatureVisible = status == domain.StatusApproved ||
		strings.EqualFold(strings.TrimSpace(stage), domain.StageApproval)
	v.PrintEnabled = status == domain.StatusApproved
	return v
}
