package models

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/utils"
	"gorm.io/gorm"
)

// Article carries two independent lifecycle axes: Status (scientific) and
// PaymentStatus (business). Status is written only by the workflow engine;
// PaymentStatus only by the payment ledger.
type Article struct {
	ID           int    `gorm:"primary_key" json:"id"`
	SubmissionId string `gorm:"size:50;uniqueIndex;not null" json:"submission_id"`
	Title        string `gorm:"size:500;not null" json:"title"`
	Abstract     string `gorm:"type:text" json:"abstract"`
	Keywords     string `gorm:"size:500" json:"keywords"`
	// Authors is a JSON list of {name, affiliation, email} entries.
	Authors string `gorm:"type:text" json:"authors"`

	CorrespondingAuthorId int `gorm:"index;not null" json:"corresponding_author_id"`
	JournalId             int `gorm:"index;not null" json:"journal_id"`

	Status        ArticleStatus `gorm:"size:30;not null;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:20;not null;index" json:"payment_status"`

	EthicsDeclaration      bool `gorm:"not null" json:"ethics_declaration"`
	OriginalityDeclaration bool `gorm:"not null" json:"originality_declaration"`

	PublicationUrl  string     `gorm:"size:500" json:"publication_url"`
	PublicationDate *time.Time `json:"publication_date"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

type NewArticle struct {
	Title    string `json:"title" binding:"required"`
	Abstract string `json:"abstract" binding:"required"`
	Keywords string `json:"keywords"`
	Authors  string `json:"authors"`

	JournalId int `json:"journal_id" binding:"required"`

	EthicsDeclaration      bool `json:"ethics_declaration"`
	OriginalityDeclaration bool `json:"originality_declaration"`
}

const submissionIdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSubmissionId returns an identifier of the form SUB-YYYYMMDD-XXXXXX.
func GenerateSubmissionId(now time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(submissionIdAlphabet))))
		if err != nil {
			// crypto/rand failing is a broken runtime; fall back deterministically.
			suffix[i] = submissionIdAlphabet[0]
			continue
		}
		suffix[i] = submissionIdAlphabet[n.Int64()]
	}
	return "SUB-" + now.Format("20060102") + "-" + string(suffix)
}

// CreateArticle creates a draft owned by the calling author.
func CreateArticle(ctx context.Context, authorId int, input *NewArticle) (*Article, error) {
	db := config.GetDB()

	var journal Journal
	if err := db.WithContext(ctx).Where("id = ? AND is_active = 1", input.JournalId).
		First(&journal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("journal not found")
		}
		return nil, err
	}

	article := Article{
		Title:                  input.Title,
		Abstract:               input.Abstract,
		Keywords:               input.Keywords,
		Authors:                input.Authors,
		CorrespondingAuthorId:  authorId,
		JournalId:              input.JournalId,
		Status:                 StatusDraft,
		PaymentStatus:          PaymentStatusNone,
		EthicsDeclaration:      input.EthicsDeclaration,
		OriginalityDeclaration: input.OriginalityDeclaration,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Retry on the rare suffix collision; the unique index is the arbiter.
		for i := 0; i < 5; i++ {
			article.SubmissionId = GenerateSubmissionId(time.Now().UTC())
			err := tx.Create(&article).Error
			if err == nil {
				return nil
			}
			if !IsDuplicateKeyErr(err) {
				return err
			}
		}
		return errors.New("could not allocate a unique submission id")
	})
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetArticleBySubmissionId reads outside any transaction.
func GetArticleBySubmissionId(ctx context.Context, submissionId string) (*Article, error) {
	return getArticleBySubmissionId(config.GetDB().WithContext(ctx), submissionId)
}

// GetArticleBySubmissionIdTx reads inside the caller's transaction; used by the
// workflow engine after the per-article lock is held so the gate read and the
// status write share one atomic unit.
func GetArticleBySubmissionIdTx(tx *gorm.DB, submissionId string) (*Article, error) {
	return getArticleBySubmissionId(tx, submissionId)
}

func getArticleBySubmissionId(tx *gorm.DB, submissionId string) (*Article, error) {
	var article Article
	if err := tx.Where("submission_id = ?", submissionId).First(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &article, nil
}

func GetArticleById(ctx context.Context, id int) (*Article, error) {
	var article Article
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", id).First(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &article, nil
}

// ListArticlesForActor scopes the listing by role: authors see their own
// submissions, reviewers and admins see everything.
func ListArticlesForActor(ctx context.Context, userId int, role Role) ([]*Article, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Article{}).Order("created_at DESC")
	if role == RoleAuthor {
		dbCtx = dbCtx.Where("corresponding_author_id = ?", userId)
	}
	var articles []*Article
	if err := dbCtx.Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}
