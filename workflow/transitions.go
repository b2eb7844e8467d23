package workflow

import (
	"bitbucket.org/openscholar/ujmp_backend/models"
)

// Action names a workflow transition request. The pair (current status,
// action) resolves against the transition table below; everything not listed
// there is illegal.
type Action string

const (
	ActionSubmit          Action = "submit"
	ActionDeskCheck       Action = "desk_check"
	ActionDeskReject      Action = "desk_reject"
	ActionSendToReview    Action = "send_to_review"
	ActionRequestRevision Action = "request_revision"
	ActionResumeReview    Action = "resume_review"
	ActionAccept          Action = "accept"
	ActionReject          Action = "reject"
	ActionStartProduction Action = "start_production"
	ActionPublish         Action = "publish"
	ActionArchive         Action = "archive"
)

// SideEffect names a step the engine runs inside the transition's
// transaction, in the order declared on the table row.
type SideEffect string

const (
	EffectStampSubmitted   SideEffect = "stamp_submitted"
	EffectRecordReview     SideEffect = "record_review"
	EffectCreateInvoice    SideEffect = "create_invoice"
	EffectStampPublication SideEffect = "stamp_publication"
	EffectIssueCertificate SideEffect = "issue_certificate"
)

// Transition is one row of the workflow table: who may move an article from
// where to where, whether the payment gate applies, which side effects run,
// and which system action (if any) chains immediately after.
type Transition struct {
	From    models.ArticleStatus
	Action  Action
	Roles   []models.Role
	To      models.ArticleStatus
	Gated   bool
	Effects []SideEffect
	// AutoNext chains a SYSTEM transition inside the same operation, so a
	// caller never observes the intermediate state as a resting state.
	AutoNext Action
}

// transitionTable is the single source of truth for the scientific axis.
// States absent from the table (legacy values and the terminal PUBLISHED and
// ARCHIVED) have no outbound transitions.
var transitionTable = []Transition{
	{
		From:     models.StatusDraft,
		Action:   ActionSubmit,
		Roles:    []models.Role{models.RoleAuthor},
		To:       models.StatusSubmitted,
		Effects:  []SideEffect{EffectStampSubmitted},
		AutoNext: ActionDeskCheck,
	},
	{
		From:   models.StatusSubmitted,
		Action: ActionDeskCheck,
		Roles:  []models.Role{models.RoleSystem},
		To:     models.StatusDeskCheck,
	},
	{
		From:    models.StatusSubmitted,
		Action:  ActionDeskReject,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusRejected,
		Effects: []SideEffect{EffectRecordReview},
	},
	{
		From:    models.StatusDeskCheck,
		Action:  ActionDeskReject,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusRejected,
		Effects: []SideEffect{EffectRecordReview},
	},
	{
		From:   models.StatusDeskCheck,
		Action: ActionSendToReview,
		Roles:  []models.Role{models.RoleAdmin},
		To:     models.StatusUnderReview,
	},
	{
		From:    models.StatusUnderReview,
		Action:  ActionRequestRevision,
		Roles:   []models.Role{models.RoleReviewer, models.RoleAdmin},
		To:      models.StatusRevisionRequired,
		Effects: []SideEffect{EffectRecordReview},
	},
	{
		From:   models.StatusRevisionRequired,
		Action: ActionResumeReview,
		Roles:  []models.Role{models.RoleSystem},
		To:     models.StatusUnderReview,
	},
	{
		From:    models.StatusUnderReview,
		Action:  ActionAccept,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusAccepted,
		Effects: []SideEffect{EffectRecordReview, EffectCreateInvoice},
	},
	{
		From:    models.StatusUnderReview,
		Action:  ActionReject,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusRejected,
		Effects: []SideEffect{EffectRecordReview},
	},
	{
		From:   models.StatusAccepted,
		Action: ActionReject,
		Roles:  []models.Role{models.RoleAdmin},
		To:     models.StatusRejected,
	},
	{
		From:   models.StatusAccepted,
		Action: ActionStartProduction,
		Roles:  []models.Role{models.RoleAdmin},
		To:     models.StatusProduction,
		Gated:  true,
	},
	{
		From:    models.StatusAccepted,
		Action:  ActionPublish,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusPublished,
		Gated:   true,
		Effects: []SideEffect{EffectStampPublication, EffectIssueCertificate},
	},
	{
		From:    models.StatusProduction,
		Action:  ActionPublish,
		Roles:   []models.Role{models.RoleAdmin},
		To:      models.StatusPublished,
		Gated:   true,
		Effects: []SideEffect{EffectStampPublication, EffectIssueCertificate},
	},
	{
		From:   models.StatusRejected,
		Action: ActionArchive,
		Roles:  []models.Role{models.RoleAdmin},
		To:     models.StatusArchived,
	},
}

// FindTransition resolves one table row by current status and action.
func FindTransition(from models.ArticleStatus, action Action) (*Transition, bool) {
	for i := range transitionTable {
		if transitionTable[i].From == from && transitionTable[i].Action == action {
			return &transitionTable[i], true
		}
	}
	return nil, false
}

// RoleAllowed reports whether the given role appears in the row's role list.
func RoleAllowed(t *Transition, role models.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AllowedActionsFor enumerates the actions the given role could request from
// the given status. SYSTEM-only rows are never offered to human actors.
func AllowedActionsFor(status models.ArticleStatus, role models.Role) []Action {
	actions := []Action{}
	for i := range transitionTable {
		t := &transitionTable[i]
		if t.From != status {
			continue
		}
		if role != models.RoleSystem && len(t.Roles) == 1 && t.Roles[0] == models.RoleSystem {
			continue
		}
		if !RoleAllowed(t, role) {
			continue
		}
		actions = append(actions, t.Action)
	}
	return actions
}
