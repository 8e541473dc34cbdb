package consumers

import (
	"context"
	"errors"
	"log"

	"corgi-rewards/internal/models"
	"corgi-rewards/internal/services"
)

// RewardProcessor executes queued reward work: retrying failed transfers and
// draining parked rewards after a wallet connects.
type RewardProcessor struct {
	Reward *services.RewardService
	Ledger *services.LedgerService
}

func NewRewardProcessor(reward *services.RewardService, ledger *services.LedgerService) *RewardProcessor {
	return &RewardProcessor{Reward: reward, Ledger: ledger}
}

// --- DTOs ---

type RewardRetryDTO struct {
	TransactionID int64 `json:"transactionId"`
}

type PendingRewardDTO struct {
	UserID int64  `json:"userId"`
	Wallet string `json:"wallet"`
}

// ProcessRewardRetry re-attempts a failed transfer. Retry failures of either
// kind are recorded on the ledger row and swallowed; redelivery comes from
// the cron sweep, not from asynq. The task itself only errors when the row
// cannot be loaded.
func (p *RewardProcessor) ProcessRewardRetry(ctx context.Context, data RewardRetryDTO) error {
	trx, err := p.Ledger.GetByID(data.TransactionID)
	if err != nil {
		return err
	}
	if trx == nil {
		log.Printf("Retry task for unknown transaction %d, dropping", data.TransactionID)
		return nil
	}
	if trx.Status != models.StatusFailed || trx.RetryCount >= models.MaxRetries {
		// Already settled or exhausted; nothing to do.
		return nil
	}

	updated, err := p.Reward.Retry(ctx, trx)
	if err != nil {
		var distErr *services.RewardDistributionError
		if errors.As(err, &distErr) && !distErr.ShouldRetry {
			log.Printf("Retry for transaction %d failed permanently: %v", trx.ID, err)
			return nil
		}
		log.Printf("Retry for transaction %d failed, will be swept again: %v", trx.ID, err)
		return nil
	}

	log.Printf("Transaction %d re-broadcast as %s (retry %d/%d)", updated.ID, updated.Status, updated.RetryCount, models.MaxRetries)
	return nil
}

// ProcessPendingReward pays out parked rewards for a user whose wallet just
// became available.
func (p *RewardProcessor) ProcessPendingReward(ctx context.Context, data PendingRewardDTO) error {
	if data.Wallet == "" {
		log.Printf("Pending reward task for user %d has no wallet, dropping", data.UserID)
		return nil
	}
	return p.Reward.ProcessPendingRewards(ctx, data.UserID, data.Wallet)
}
