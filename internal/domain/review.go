package domain

import (
	"strings"
	"time"
)

// Status is the coarse lifecycle state of an application.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPending         Status = "PENDING"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusReverted        Status = "REVERTED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusPending, StatusPendingApproval, StatusApproved, StatusReverted}

// ParseStatus normalizes a status label. Case, surrounding space and
// separators are ignored, so "Pending Approval" parses as PENDING_APPROVAL.
// An empty label is NEW. Unknown labels return NEW and false.
func ParseStatus(s string) (Status, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch Status(norm) {
	case "":
		return StatusNew, true
	case StatusNew, StatusPending, StatusPendingApproval, StatusApproved, StatusReverted:
		return Status(norm), true
	case "REVERT":
		return StatusReverted, true
	}
	return StatusNew, false
}

// Action is a reviewer action.
type Action string

const (
	ActionSubmit  Action = "SUBMIT"
	ActionApprove Action = "APPROVE"
	ActionRevert  Action = "REVERT"
)

// Actions lists the actions in button order.
var Actions = []Action{ActionSubmit, ActionApprove, ActionRevert}

// ParseAction normalizes an action name.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionSubmit, ActionApprove, ActionRevert:
		return a, true
	}
	return "", false
}

// Roles is a set of canonical role classes.
type Roles uint8

const (
	RoleCreditOfficer Roles = 1 << iota
	RoleAMLRO
	RoleHeadOfCredit
	RoleBranchManager
	RoleApprover
	RoleAdmin
)

var roleNames = []struct {
	role Roles
	name string
}{
	{RoleCreditOfficer, "Credit Officer"},
	{RoleAMLRO, "AMLRO"},
	{RoleHeadOfCredit, "Head of Credit"},
	{RoleBranchManager, "Branch Manager"},
	{RoleApprover, "Approver"},
	{RoleAdmin, "Admin"},
}

// Has reports whether any class in c is in r.
func (r Roles) Has(c Roles) bool { return r&c != 0 }

// Names returns the canonical names of the classes in r.
func (r Roles) Names() []string {
	names := []string{}
	for _, rn := range roleNames {
		if r.Has(rn.role) {
			names = append(names, rn.name)
		}
	}
	return names
}

func (r Roles) String() string { return strings.Join(r.Names(), ",") }

// Editor names a comment editor on the review form.
type Editor string

const (
	EditorCreditOfficer Editor = "Credit Officer"
	EditorAMLRO         Editor = "AMLRO"
	EditorHeadOfCredit  Editor = "Head of Credit"
	EditorBranchManager Editor = "Branch Manager/Approver"
	EditorApprover      Editor = "Approver"
)

// Comment and signature field names persisted per editor.
const (
	FieldCreditOfficerComment = "creditOfficerComment"
	FieldAMLROComments        = "amlroComments"
	FieldHeadOfCredit         = "headOfCredit"
	FieldBranchManager        = "branchManager"
	FieldApprover1Comments    = "approver1Comments"

	FieldCreditOfficerName = "creditOfficerName"
	FieldAMLROName         = "amlroName"
	FieldHeadOfCreditName  = "headOfCreditName"
	FieldBranchManagerName = "branchManagerName"
	FieldApprover1Name     = "approver1Name"

	// SignedAtSuffix is appended to a signature field to name its date.
	SignedAtSuffix = "SignedAt"
)

// Known pipeline stages.
const (
	StageNew        = "New"
	StageAssessment = "Assessment"
	StageCompliance = "Compliance"
	StageFirst      = "Ist Review"
	StageSecond     = "2nd Review"
	StageApproval   = "Approval"
)

// ViewPermissions describes the review surface a user sees for an application.
type ViewPermissions struct {
	EditorsVisible        []Editor `json:"editorsVisible"`
	ButtonsEnabled        []Action `json:"buttonsEnabled"`
	CommentSectionVisible bool     `json:"commentSectionVisible"`
	SignatureVisible      bool     `json:"signatureVisible"`
	PrintEnabled          bool     `json:"printEnabled"`

	// Set when the inputs could not be recognized and a safe default was used.
	UnknownStatus bool `json:"unknownStatus,omitempty"`
	UnknownRole   bool `json:"unknownRole,omitempty"`
}

// Allows reports whether the button for a is enabled.
func (v ViewPermissions) Allows(a Action) bool {
	for _, b := range v.ButtonsEnabled {
		if b == a {
			return true
		}
	}
	return false
}

// Shows reports whether editor e is visible.
func (v ViewPermissions) Shows(e Editor) bool {
	for _, x := range v.EditorsVisible {
		if x == e {
			return true
		}
	}
	return false
}

// Signature is the approval marker supplied with an APPROVE.
type Signature struct {
	Name string `json:"name"`
	Date string `json:"date"`
}

// TransitionPayload carries the caller-supplied part of an action.
type TransitionPayload struct {
	Comment      string     `json:"comment"`
	Editor       Editor     `json:"editor,omitempty"`
	TargetStage  string     `json:"targetStage,omitempty"`
	TargetStatus string     `json:"targetStatus,omitempty"`
	Signature    *Signature `json:"signature,omitempty"`
}

// Transition is the result of a successful action. The caller persists it.
type Transition struct {
	Action          Action            `json:"action"`
	Editor          Editor            `json:"editor"`
	FromStatus      Status            `json:"fromStatus"`
	FromStage       string            `json:"fromStage"`
	NewStatus       Status            `json:"newStatus"`
	NewStage        string            `json:"newStage"`
	FieldsToPersist map[string]string `json:"fieldsToPersist"`
}

// TransitionRecord is the audit trail entry stored for each persisted transition.
type TransitionRecord struct {
	ID         string    `json:"id"`
	AppNumber  string    `json:"appNumber"`
	Action     Action    `json:"action"`
	Actor      string    `json:"actor"`
	Role       string    `json:"role"`
	Editor     Editor    `json:"editor"`
	FromStatus Status    `json:"fromStatus"`
	FromStage  string    `json:"fromStage"`
	ToStatus   Status    `json:"toStatus"`
	ToStage    string    `json:"toStage"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
