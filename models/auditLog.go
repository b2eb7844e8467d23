package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"gorm.io/gorm"
)

// AuditLog is the append-only side channel. Rows are written inside the
// mutating component's transaction and are never updated, deleted, or read
// for control decisions.
type AuditLog struct {
	ID int `gorm:"primary_key" json:"id"`

	// ActorId is null for SYSTEM actions (webhooks, auto-transitions).
	ActorId   *int   `gorm:"index" json:"actor_id"`
	ActorName string `gorm:"size:255" json:"actor_name"`

	Action     string `gorm:"size:50;not null;index" json:"action"`
	EntityType string `gorm:"size:50;not null;index:idx_audit_entity" json:"entity_type"`
	EntityId   int    `gorm:"not null;index:idx_audit_entity" json:"entity_id"`

	Metadata []byte `gorm:"type:json" json:"metadata"`

	CorrelationId string `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AppendAuditEntry writes one audit row inside the caller's transaction so it
// commits or rolls back with the mutation it describes.
func AppendAuditEntry(tx *gorm.DB, action string, entityType string, entityId int, metadata map[string]interface{}) error {
	ctx := tx.Statement.Context
	actorId, actorName := ActorFromContext(ctx)

	var metaJSON []byte
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		metaJSON = b
	}

	entry := AuditLog{
		ActorId:       actorId,
		ActorName:     actorName,
		Action:        action,
		EntityType:    entityType,
		EntityId:      entityId,
		Metadata:      metaJSON,
		CorrelationId: CorrelationIdFromContextOrNew(ctx),
	}
	return tx.Create(&entry).Error
}

// GetAuditTrail returns the audit entries for one entity, newest first.
func GetAuditTrail(ctx context.Context, entityType string, entityId int) ([]*AuditLog, error) {
	var entries []*AuditLog
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityId).
		Order("created_at DESC, id DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
