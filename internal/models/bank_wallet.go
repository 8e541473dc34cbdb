package models

import (
	"time"
)

// BankWallet is a singleton row tracking the distributing wallet. Balances
// are in smallest units; CurrentBalance is a cached view of the on-chain
// jetton balance and is advisory only.
type BankWallet struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Address          string     `gorm:"column:address;size:128;not null;uniqueIndex" json:"address"`
	CurrentBalance   int64      `gorm:"column:current_balance;not null;default:0" json:"current_balance"`
	TotalDistributed int64      `gorm:"column:total_distributed;not null;default:0" json:"total_distributed"`
	SyncedAt         *time.Time `gorm:"column:synced_at" json:"synced_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BankWallet) TableName() string {
	return "bank_wallets"
}
