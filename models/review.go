package models

import (
	"context"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
)

// Review is immutable once created; an amended opinion is a new row.
type Review struct {
	ID                   int            `gorm:"primary_key" json:"id"`
	ArticleId            int            `gorm:"not null;index" json:"article_id"`
	ReviewerId           int            `gorm:"not null;index" json:"reviewer_id"`
	Recommendation       Recommendation `gorm:"size:20;not null" json:"recommendation"`
	CommentsToAuthor     string         `gorm:"type:text" json:"comments_to_author"`
	ConfidentialComments string         `gorm:"type:text" json:"confidential_comments"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// ListReviews returns reviews for an article. Confidential comments are
// stripped for author-facing reads.
func ListReviews(ctx context.Context, articleId int, includeConfidential bool) ([]*Review, error) {
	var reviews []*Review
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("article_id = ?", articleId).
		Order("created_at DESC").
		Find(&reviews).Error; err != nil {
		return nil, err
	}
	if !includeConfidential {
		for _, r := range reviews {
			r.ConfidentialComments = ""
		}
	}
	return reviews, nil
}
