package models

import (
	"context"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"gorm.io/gorm"
)

// ArticleVersion is an append-only manuscript submission. Rows are never
// mutated; a revision is always a new row with the next version number.
type ArticleVersion struct {
	ID            int          `gorm:"primary_key" json:"id"`
	ArticleId     int          `gorm:"not null;index:uniq_article_version,unique" json:"article_id"`
	VersionNumber int          `gorm:"not null;index:uniq_article_version,unique" json:"version_number"`
	RevisionType  RevisionType `gorm:"size:20;not null" json:"revision_type"`
	// ManuscriptObjectKey references the file in the external storage
	// collaborator; the bytes are never stored here.
	ManuscriptObjectKey string    `gorm:"size:500;not null" json:"manuscript_object_key"`
	Notes               string    `gorm:"type:text" json:"notes"`
	CreatedById         int       `gorm:"index" json:"created_by_id"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NextVersionNumberTx returns max(version_number)+1 within the caller's tx.
func NextVersionNumberTx(tx *gorm.DB, articleId int) (int, error) {
	var maxVersion int
	if err := tx.Model(&ArticleVersion{}).
		Where("article_id = ?", articleId).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&maxVersion).Error; err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func ListVersions(ctx context.Context, articleId int) ([]*ArticleVersion, error) {
	var versions []*ArticleVersion
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("article_id = ?", articleId).
		Order("version_number DESC").
		Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}
