package models

import (
	"time"
)

// PendingReward statuses.
const (
	PendingRewardPending   = "pending"
	PendingRewardProcessed = "processed"
	PendingRewardCancelled = "cancelled"
)

// PendingReward parks a reward for a user who has no connected wallet yet.
// Invariant: a pending row has TransactionID NULL; a processed row has it set.
// CorgiCount is the original sighting count; the payout amount is recomputed
// from it at drain time so the reward curve stays defined in one place.
type PendingReward struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64      `gorm:"column:user_id;not null;index" json:"user_id"`
	SightingID    int64      `gorm:"column:sighting_id;not null;uniqueIndex:uq_pending_sighting" json:"sighting_id"`
	Amount        int64      `gorm:"column:amount;not null" json:"amount"`
	CorgiCount    int        `gorm:"column:corgi_count;not null;default:0" json:"corgi_count"`
	Status        string     `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	TransactionID *int64     `gorm:"column:transaction_id" json:"transaction_id"`
	ProcessedAt   *time.Time `gorm:"column:processed_at" json:"processed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PendingReward) TableName() string {
	return "pending_rewards"
}
