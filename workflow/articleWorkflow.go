package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/utils"
)

// TransitionParams carries the optional per-action inputs: reviewer comments
// on decisions, and the public location stamped at publication.
type TransitionParams struct {
	Comments             string `json:"comments"`
	ConfidentialComments string `json:"confidential_comments"`
	PublicationUrl       string `json:"publication_url"`
}

// ApplyTransition is the only entry point that mutates Article.Status.
// It serializes on the article's advisory lock, validates the requested
// action against the transition table, checks the actor's role (and
// ownership for authors), consults the payment gate on gated rows, runs the
// row's side effects in declared order, and appends exactly one STATUS_CHANGE
// audit entry per applied transition. System chain transitions run inside
// the same lock and transaction, so callers never observe the intermediate
// state.
func ApplyTransition(ctx context.Context, submissionId string, action Action, params *TransitionParams) (*models.Article, error) {
	role, ok := actorRole(ctx)
	if !ok || role == models.RoleSystem {
		return nil, ErrUnauthorized
	}
	if params == nil {
		params = &TransitionParams{}
	}

	var article *models.Article
	db := config.GetDB()
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireArticleLock(conn, submissionId); err != nil {
			return err
		}
		defer ReleaseArticleLock(conn, submissionId)

		return conn.Transaction(func(tx *gorm.DB) error {
			a, err := models.GetArticleBySubmissionIdTx(tx, submissionId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if role == models.RoleAuthor && !ownsArticle(ctx, a) {
				return ErrUnauthorized
			}
			if err := applyTransitionLocked(tx, a, action, role, params); err != nil {
				return err
			}
			article = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return article, nil
}

// applyTransitionLocked applies one table row plus any chained system row.
// Callers must hold the article's advisory lock and an open transaction.
func applyTransitionLocked(tx *gorm.DB, article *models.Article, action Action, role models.Role, params *TransitionParams) error {
	t, found := FindTransition(article.Status, action)
	if !found {
		return &IllegalTransitionError{From: article.Status, Action: action}
	}
	if !RoleAllowed(t, role) {
		return ErrUnauthorized
	}
	if t.Gated && !PaymentGateSatisfied(article.PaymentStatus) {
		return &PaymentRequiredError{PaymentStatus: article.PaymentStatus}
	}
	if action == ActionSubmit {
		if err := checkSubmitPreconditions(tx, article); err != nil {
			return err
		}
	}

	from := article.Status
	article.Status = t.To

	for _, effect := range t.Effects {
		if err := runSideEffect(tx, article, effect, role, params); err != nil {
			return err
		}
	}

	if err := tx.Model(article).Updates(scientificAxisUpdates(article)).Error; err != nil {
		return err
	}
	if err := models.AppendAuditEntry(tx, models.AuditActionStatusChange, models.EntityTypeArticle, article.ID, map[string]interface{}{
		"from":   string(from),
		"to":     string(article.Status),
		"action": string(action),
	}); err != nil {
		return err
	}

	if t.AutoNext != "" {
		return applyTransitionLocked(tx, article, t.AutoNext, models.RoleSystem, params)
	}
	return nil
}

// scientificAxisUpdates lists the columns the transition engine owns.
// payment_status is deliberately absent: it belongs to the payment ledger,
// which settles under the invoice lock, and a full-row Save here would
// overwrite a settlement that committed after this transaction's read.
func scientificAxisUpdates(article *models.Article) map[string]interface{} {
	return map[string]interface{}{
		"status":           article.Status,
		"submitted_at":     article.SubmittedAt,
		"publication_url":  article.PublicationUrl,
		"publication_date": article.PublicationDate,
	}
}

func runSideEffect(tx *gorm.DB, article *models.Article, effect SideEffect, role models.Role, params *TransitionParams) error {
	switch effect {
	case EffectStampSubmitted:
		now := time.Now().UTC()
		article.SubmittedAt = &now
		return models.AppendAuditEntry(tx, models.AuditActionArticleSubmitted, models.EntityTypeArticle, article.ID, nil)
	case EffectRecordReview:
		return recordDecisionReview(tx, article, role, params)
	case EffectCreateInvoice:
		return createInvoiceOnAcceptanceTx(tx, article)
	case EffectStampPublication:
		now := time.Now().UTC()
		article.PublicationDate = &now
		if params.PublicationUrl != "" {
			article.PublicationUrl = params.PublicationUrl
		}
		return models.AppendAuditEntry(tx, models.AuditActionArticlePublished, models.EntityTypeArticle, article.ID, map[string]interface{}{
			"publication_url": article.PublicationUrl,
		})
	case EffectIssueCertificate:
		_, err := issueCertificateTx(tx, article)
		return err
	}
	return nil
}

// recordDecisionReview persists the decision comments as an immutable review
// row. Amended decisions become new rows; nothing is ever updated in place.
func recordDecisionReview(tx *gorm.DB, article *models.Article, role models.Role, params *TransitionParams) error {
	recommendation := recommendationFor(article.Status)
	comments := params.Comments
	if comments == "" {
		comments = defaultDecisionComment(recommendation)
	}
	actorId, _ := models.ActorFromContext(tx.Statement.Context)
	reviewerId := 0
	if actorId != nil {
		reviewerId = *actorId
	}
	review := models.Review{
		ArticleId:            article.ID,
		ReviewerId:           reviewerId,
		Recommendation:       recommendation,
		CommentsToAuthor:     comments,
		ConfidentialComments: params.ConfidentialComments,
	}
	if err := tx.Create(&review).Error; err != nil {
		return err
	}
	return models.AppendAuditEntry(tx, models.AuditActionReviewSubmitted, models.EntityTypeArticle, article.ID, map[string]interface{}{
		"review_id":      review.ID,
		"recommendation": string(review.Recommendation),
	})
}

// recommendationFor derives the recorded recommendation from the state the
// decision moved the article into.
func recommendationFor(to models.ArticleStatus) models.Recommendation {
	switch to {
	case models.StatusAccepted:
		return models.RecommendationAccept
	case models.StatusRevisionRequired:
		return models.RecommendationRevise
	default:
		return models.RecommendationReject
	}
}

// defaultDecisionComment fills the author-visible comment when the editor
// decides without writing one, so every decision leaves a readable record.
func defaultDecisionComment(recommendation models.Recommendation) string {
	switch recommendation {
	case models.RecommendationAccept:
		return "Article accepted"
	case models.RecommendationRevise:
		return "Revision requested"
	default:
		return "Article rejected"
	}
}

// checkSubmitPreconditions rejects submission of an incomplete draft: both
// declarations confirmed and at least one manuscript version uploaded.
func checkSubmitPreconditions(tx *gorm.DB, article *models.Article) error {
	if article.Title == "" || article.Abstract == "" {
		return &IllegalTransitionError{From: article.Status, Action: ActionSubmit}
	}
	if !article.EthicsDeclaration || !article.OriginalityDeclaration {
		return &IllegalTransitionError{From: article.Status, Action: ActionSubmit}
	}
	var versions int64
	if err := tx.Model(&models.ArticleVersion{}).Where("article_id = ?", article.ID).Count(&versions).Error; err != nil {
		return err
	}
	if versions == 0 {
		return &IllegalTransitionError{From: article.Status, Action: ActionSubmit}
	}
	return nil
}

// RevisionInput is the author's revised manuscript upload.
type RevisionInput struct {
	ManuscriptObjectKey string              `json:"manuscript_object_key" binding:"required"`
	Notes               string              `json:"notes"`
	RevisionType        models.RevisionType `json:"revision_type"`
}

// UploadRevision stores a new manuscript version. In DRAFT it only records
// the version; in REVISION_REQUIRED it also resumes review through a system
// transition inside the same lock and transaction. Any other state rejects
// the upload.
func UploadRevision(ctx context.Context, submissionId string, input *RevisionInput) (*models.Article, error) {
	role, ok := actorRole(ctx)
	if !ok || role != models.RoleAuthor {
		return nil, ErrUnauthorized
	}

	var article *models.Article
	db := config.GetDB()
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireArticleLock(conn, submissionId); err != nil {
			return err
		}
		defer ReleaseArticleLock(conn, submissionId)

		return conn.Transaction(func(tx *gorm.DB) error {
			a, err := models.GetArticleBySubmissionIdTx(tx, submissionId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if !ownsArticle(ctx, a) {
				return ErrUnauthorized
			}

			switch a.Status {
			case models.StatusDraft, models.StatusRevisionRequired:
			default:
				return &IllegalTransitionError{From: a.Status, Action: ActionResumeReview}
			}

			versionNumber, err := models.NextVersionNumberTx(tx, a.ID)
			if err != nil {
				return err
			}
			revisionType := input.RevisionType
			if a.Status == models.StatusDraft {
				revisionType = models.RevisionTypeInitial
			} else if revisionType != models.RevisionTypeMinor && revisionType != models.RevisionTypeMajor {
				revisionType = models.RevisionTypeMinor
			}
			actorId, _ := models.ActorFromContext(ctx)
			createdBy := 0
			if actorId != nil {
				createdBy = *actorId
			}
			version := models.ArticleVersion{
				ArticleId:           a.ID,
				VersionNumber:       versionNumber,
				RevisionType:        revisionType,
				ManuscriptObjectKey: input.ManuscriptObjectKey,
				Notes:               input.Notes,
				CreatedById:         createdBy,
			}
			if err := tx.Create(&version).Error; err != nil {
				return err
			}

			if a.Status == models.StatusRevisionRequired {
				if err := applyTransitionLocked(tx, a, ActionResumeReview, models.RoleSystem, &TransitionParams{}); err != nil {
					return err
				}
			}
			article = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return article, nil
}

// AllowedActions is the read accessor interfaces use to render controls.
// It never mutates and mirrors exactly what ApplyTransition would permit,
// except the payment gate, which is only evaluated at transition time.
func AllowedActions(ctx context.Context, submissionId string) ([]Action, error) {
	role, ok := actorRole(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	article, err := models.GetArticleBySubmissionId(ctx, submissionId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if role == models.RoleAuthor && !ownsArticle(ctx, article) {
		return nil, ErrUnauthorized
	}
	return AllowedActionsFor(article.Status, role), nil
}

func actorRole(ctx context.Context) (models.Role, bool) {
	s, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || s == "" {
		return "", false
	}
	return models.Role(s), true
}

func ownsArticle(ctx context.Context, article *models.Article) bool {
	userId, ok := utils.GetUserIdFromContext(ctx)
	return ok && article.CorrespondingAuthorId == userId
}
