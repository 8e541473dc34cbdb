package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"corgi-rewards/internal/config"
	"corgi-rewards/internal/models"
)

// BalanceReader is the slice of the chain client the balance guard needs.
type BalanceReader interface {
	JettonBalance(ctx context.Context, owner, jettonMaster string) (int64, error)
}

// AffordabilityResult is advisory: a passing check does not guarantee the
// broadcast will succeed, it only gates obviously unfunded transfers.
type AffordabilityResult struct {
	CanAfford bool
	Reason    string
	Balance   int64
}

// BalanceService guards the bank wallet. It never mutates chain state; its
// only writes are to the local bank_wallets bookkeeping row.
type BalanceService struct {
	DB     *gorm.DB
	chain  BalanceReader
	wallet string
	jetton string
}

func NewBalanceService(db *gorm.DB, chain BalanceReader, cfg config.ChainConfig) *BalanceService {
	return &BalanceService{
		DB:     db,
		chain:  chain,
		wallet: cfg.BankWallet,
		jetton: cfg.JettonMaster,
	}
}

// CanAfford checks whether the bank wallet's on-chain jetton balance covers
// amount. A chain query failure propagates as an error rather than resolving
// to either answer; the caller treats that as a retryable failure.
func (s *BalanceService) CanAfford(ctx context.Context, amount int64) (AffordabilityResult, error) {
	balance, err := s.chain.JettonBalance(ctx, s.wallet, s.jetton)
	if err != nil {
		return AffordabilityResult{}, err
	}

	if balance < amount {
		return AffordabilityResult{
			CanAfford: false,
			Reason:    fmt.Sprintf("bank wallet balance %d is below required amount %d", balance, amount),
			Balance:   balance,
		}, nil
	}
	return AffordabilityResult{CanAfford: true, Balance: balance}, nil
}

// SyncBalance refreshes the cached bank wallet row from chain.
func (s *BalanceService) SyncBalance(ctx context.Context) error {
	balance, err := s.chain.JettonBalance(ctx, s.wallet, s.jetton)
	if err != nil {
		return fmt.Errorf("sync bank balance: %w", err)
	}

	now := time.Now()
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var bank models.BankWallet
		err := tx.Where("address = ?", s.wallet).First(&bank).Error
		if err == gorm.ErrRecordNotFound {
			bank = models.BankWallet{Address: s.wallet, CurrentBalance: balance, SyncedAt: &now}
			return tx.Create(&bank).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&bank).Updates(map[string]interface{}{
			"current_balance": balance,
			"synced_at":       now,
		}).Error
	})
}

// RecordDistribution bumps total_distributed after a transfer completes.
func (s *BalanceService) RecordDistribution(amount int64) error {
	res := s.DB.Model(&models.BankWallet{}).
		Where("address = ?", s.wallet).
		Updates(map[string]interface{}{
			"total_distributed": gorm.Expr("total_distributed + ?", amount),
			"current_balance":   gorm.Expr("current_balance - ?", amount),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bank wallet row for %s not found", s.wallet)
	}
	return nil
}

// GetBankWallet returns the cached bookkeeping row.
func (s *BalanceService) GetBankWallet() (*models.BankWallet, error) {
	var bank models.BankWallet
	if err := s.DB.Where("address = ?", s.wallet).First(&bank).Error; err != nil {
		return nil, err
	}
	return &bank, nil
}

// StartScheduler refreshes the cached balance every 5 minutes.
func (s *BalanceService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.SyncBalance(ctx); err != nil {
			log.Printf("Error syncing bank balance: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling bank balance sync: %v", err)
		return
	}
	c.Start()
	log.Println("BalanceService scheduler started (every 5 minutes)")
}
