package models

import (
	"time"
)

// Transaction statuses. A row is created in pending, moves to broadcasting
// once the transfer is submitted on-chain, and ends in completed or failed.
const (
	StatusPending      = "pending"
	StatusBroadcasting = "broadcasting"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Failure reasons recorded on failed rows.
const (
	FailureInsufficientBank = "insufficient_bank_balance"
	FailureBroadcast        = "broadcast_error"
	FailureConfirmation     = "confirmation_error"
)

// MaxRetries is the hard cap on re-broadcast attempts for a failed transfer.
const MaxRetries = 3

type Transaction struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference  string `gorm:"column:reference;size:64;not null;index" json:"reference"`
	FromWallet string `gorm:"column:from_wallet;size:128;not null" json:"from_wallet"`
	ToWallet   string `gorm:"column:to_wallet;size:128;not null" json:"to_wallet"`
	// Amount is in the jetton's smallest units. Never a float.
	Amount     int64  `gorm:"column:amount;not null" json:"amount"`
	Status     string `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	SightingID int64  `gorm:"column:sighting_id;not null;index" json:"sighting_id"`
	// ActiveSightingID mirrors SightingID while the row is non-failed and is
	// NULL once failed. The unique index on it is what makes check-and-create
	// atomic: at most one non-failed row can exist per sighting.
	ActiveSightingID *int64     `gorm:"column:active_sighting_id;uniqueIndex:uq_trx_active_sighting" json:"-"`
	TransactionHash  *string    `gorm:"column:transaction_hash;size:128;uniqueIndex:uq_trx_hash" json:"transaction_hash"`
	SeqNo            *uint64    `gorm:"column:seq_no" json:"seq_no"`
	RetryCount       int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastRetryAt      *time.Time `gorm:"column:last_retry_at" json:"last_retry_at"`
	LastError        string     `gorm:"column:last_error;type:text" json:"last_error"`
	FailureReason    string     `gorm:"column:failure_reason;size:64" json:"failure_reason"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	BroadcastAt      *time.Time `gorm:"column:broadcast_at" json:"broadcast_at"`
	ConfirmedAt      *time.Time `gorm:"column:confirmed_at" json:"confirmed_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Terminal reports whether no further automatic action will be taken on the row.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted ||
		(t.Status == StatusFailed && t.RetryCount >= MaxRetries)
}
