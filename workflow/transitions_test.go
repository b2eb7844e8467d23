package workflow

import (
	"testing"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

var allStatuses = []models.ArticleStatus{
	models.StatusDraft,
	models.StatusSubmitted,
	models.StatusDeskCheck,
	models.StatusUnderReview,
	models.StatusRevisionRequired,
	models.StatusAccepted,
	models.StatusProduction,
	models.StatusPublished,
	models.StatusRejected,
	models.StatusArchived,
}

var allActions = []Action{
	ActionSubmit,
	ActionDeskCheck,
	ActionDeskReject,
	ActionSendToReview,
	ActionRequestRevision,
	ActionResumeReview,
	ActionAccept,
	ActionReject,
	ActionStartProduction,
	ActionPublish,
	ActionArchive,
}

func TestTransitionTableExhaustive(t *testing.T) {
	// Every legal (from, action) pair and its destination. Everything else
	// must be absent from the table.
	legal := map[models.ArticleStatus]map[Action]models.ArticleStatus{
		models.StatusDraft: {
			ActionSubmit: models.StatusSubmitted,
		},
		models.StatusSubmitted: {
			ActionDeskCheck:  models.StatusDeskCheck,
			ActionDeskReject: models.StatusRejected,
		},
		models.StatusDeskCheck: {
			ActionDeskReject:   models.StatusRejected,
			ActionSendToReview: models.StatusUnderReview,
		},
		models.StatusUnderReview: {
			ActionRequestRevision: models.StatusRevisionRequired,
			ActionAccept:          models.StatusAccepted,
			ActionReject:          models.StatusRejected,
		},
		models.StatusRevisionRequired: {
			ActionResumeReview: models.StatusUnderReview,
		},
		models.StatusAccepted: {
			ActionReject:          models.StatusRejected,
			ActionStartProduction: models.StatusProduction,
			ActionPublish:         models.StatusPublished,
		},
		models.StatusProduction: {
			ActionPublish: models.StatusPublished,
		},
		models.StatusRejected: {
			ActionArchive: models.StatusArchived,
		},
	}

	for _, from := range allStatuses {
		for _, action := range allActions {
			tr, found := FindTransition(from, action)
			wantTo, wantFound := legal[from][action]
			if found != wantFound {
				t.Errorf("FindTransition(%s, %s): found=%v, want %v", from, action, found, wantFound)
				continue
			}
			if found && tr.To != wantTo {
				t.Errorf("FindTransition(%s, %s): to=%s, want %s", from, action, tr.To, wantTo)
			}
		}
	}
}

func TestTerminalStatesHaveNoOutboundTransitions(t *testing.T) {
	terminals := []models.ArticleStatus{models.StatusPublished, models.StatusArchived}
	for _, status := range terminals {
		for _, action := range allActions {
			if _, found := FindTransition(status, action); found {
				t.Errorf("terminal state %s has outbound action %s", status, action)
			}
		}
	}
}

func TestLegacyStatesAreUnreachableAndStuck(t *testing.T) {
	legacy := []models.ArticleStatus{
		models.StatusLegacyReviewersInvited,
		models.StatusLegacyRevisedSubmitted,
		models.StatusLegacyEditorDecision,
		models.StatusLegacyPaymentPending,
		models.StatusLegacyPaid,
		models.StatusLegacyScheduled,
		models.StatusLegacyCertificateIssued,
	}
	for _, status := range legacy {
		for _, action := range allActions {
			if _, found := FindTransition(status, action); found {
				t.Errorf("legacy state %s has outbound action %s", status, action)
			}
		}
		for i := range transitionTable {
			if transitionTable[i].To == status {
				t.Errorf("legacy state %s is reachable via %s", status, transitionTable[i].Action)
			}
		}
	}
}

func TestGatedTransitions(t *testing.T) {
	// Exactly the transitions out of the paid band are gated.
	wantGated := map[Action]bool{
		ActionStartProduction: true,
		ActionPublish:         true,
	}
	for i := range transitionTable {
		tr := &transitionTable[i]
		if tr.Gated != wantGated[tr.Action] {
			t.Errorf("transition %s from %s: gated=%v, want %v", tr.Action, tr.From, tr.Gated, wantGated[tr.Action])
		}
	}
}

func TestRoleAuthorization(t *testing.T) {
	tests := []struct {
		from   models.ArticleStatus
		action Action
		role   models.Role
		want   bool
	}{
		{models.StatusDraft, ActionSubmit, models.RoleAuthor, true},
		{models.StatusDraft, ActionSubmit, models.RoleAdmin, false},
		{models.StatusDraft, ActionSubmit, models.RoleReviewer, false},
		{models.StatusUnderReview, ActionRequestRevision, models.RoleReviewer, true},
		{models.StatusUnderReview, ActionRequestRevision, models.RoleAdmin, true},
		{models.StatusUnderReview, ActionRequestRevision, models.RoleAuthor, false},
		{models.StatusUnderReview, ActionAccept, models.RoleAdmin, true},
		{models.StatusUnderReview, ActionAccept, models.RoleReviewer, false},
		{models.StatusSubmitted, ActionDeskCheck, models.RoleSystem, true},
		{models.StatusSubmitted, ActionDeskCheck, models.RoleAdmin, false},
		{models.StatusRevisionRequired, ActionResumeReview, models.RoleSystem, true},
		{models.StatusRevisionRequired, ActionResumeReview, models.RoleAuthor, false},
		{models.StatusAccepted, ActionPublish, models.RoleAdmin, true},
		{models.StatusAccepted, ActionPublish, models.RoleAuthor, false},
	}
	for _, tc := range tests {
		tr, found := FindTransition(tc.from, tc.action)
		if !found {
			t.Fatalf("FindTransition(%s, %s): not found", tc.from, tc.action)
		}
		if got := RoleAllowed(tr, tc.role); got != tc.want {
			t.Errorf("RoleAllowed(%s->%s, %s)=%v, want %v", tc.from, tc.action, tc.role, got, tc.want)
		}
	}
}

func TestSubmitChainsIntoDeskCheck(t *testing.T) {
	tr, found := FindTransition(models.StatusDraft, ActionSubmit)
	if !found {
		t.Fatal("submit transition missing")
	}
	if tr.AutoNext != ActionDeskCheck {
		t.Fatalf("submit AutoNext=%q, want %q", tr.AutoNext, ActionDeskCheck)
	}
	next, found := FindTransition(tr.To, tr.AutoNext)
	if !found {
		t.Fatal("chained desk check transition missing")
	}
	if next.To != models.StatusDeskCheck {
		t.Fatalf("chained transition lands in %s, want %s", next.To, models.StatusDeskCheck)
	}
	if len(next.Roles) != 1 || next.Roles[0] != models.RoleSystem {
		t.Fatalf("chained transition roles=%v, want SYSTEM only", next.Roles)
	}
}

func TestAllowedActionsForHidesSystemRows(t *testing.T) {
	for _, role := range []models.Role{models.RoleAuthor, models.RoleReviewer, models.RoleAdmin} {
		for _, status := range []models.ArticleStatus{models.StatusSubmitted, models.StatusRevisionRequired} {
			for _, action := range AllowedActionsFor(status, role) {
				if action == ActionDeskCheck || action == ActionResumeReview {
					t.Errorf("AllowedActionsFor(%s, %s) offers system action %s", status, role, action)
				}
			}
		}
	}
}

func TestAllowedActionsForMatchesTable(t *testing.T) {
	got := AllowedActionsFor(models.StatusUnderReview, models.RoleAdmin)
	want := map[Action]bool{ActionRequestRevision: true, ActionAccept: true, ActionReject: true}
	if len(got) != len(want) {
		t.Fatalf("AllowedActionsFor(UNDER_REVIEW, ADMIN)=%v, want %d actions", got, len(want))
	}
	for _, action := range got {
		if !want[action] {
			t.Errorf("unexpected action %s", action)
		}
	}

	if actions := AllowedActionsFor(models.StatusUnderReview, models.RoleReviewer); len(actions) != 1 || actions[0] != ActionRequestRevision {
		t.Errorf("AllowedActionsFor(UNDER_REVIEW, REVIEWER)=%v, want [request_revision]", actions)
	}
	if actions := AllowedActionsFor(models.StatusPublished, models.RoleAdmin); len(actions) != 0 {
		t.Errorf("AllowedActionsFor(PUBLISHED, ADMIN)=%v, want none", actions)
	}
}

func TestAcceptanceEffectsOrder(t *testing.T) {
	tr, found := FindTransition(models.StatusUnderReview, ActionAccept)
	if !found {
		t.Fatal("accept transition missing")
	}
	want := []SideEffect{EffectRecordReview, EffectCreateInvoice}
	if len(tr.Effects) != len(want) {
		t.Fatalf("accept effects=%v, want %v", tr.Effects, want)
	}
	for i := range want {
		if tr.Effects[i] != want[i] {
			t.Fatalf("accept effects=%v, want %v", tr.Effects, want)
		}
	}
}

func TestPublishEffectsIssueCertificateLast(t *testing.T) {
	for _, from := range []models.ArticleStatus{models.StatusAccepted, models.StatusProduction} {
		tr, found := FindTransition(from, ActionPublish)
		if !found {
			t.Fatalf("publish transition from %s missing", from)
		}
		if len(tr.Effects) == 0 || tr.Effects[len(tr.Effects)-1] != EffectIssueCertificate {
			t.Errorf("publish from %s effects=%v, want certificate issuance last", from, tr.Effects)
		}
	}
}

func TestRecommendationForDecision(t *testing.T) {
	tests := []struct {
		to   models.ArticleStatus
		want models.Recommendation
	}{
		{models.StatusAccepted, models.RecommendationAccept},
		{models.StatusRevisionRequired, models.RecommendationRevise},
		{models.StatusRejected, models.RecommendationReject},
	}
	for _, tc := range tests {
		if got := recommendationFor(tc.to); got != tc.want {
			t.Errorf("recommendationFor(%s)=%s, want %s", tc.to, got, tc.want)
		}
	}
}
