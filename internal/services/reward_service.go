package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"corgi-rewards/internal/config"
	"corgi-rewards/internal/models"
)

// WalletResolver derives the jetton sub-wallet for an owner address.
type WalletResolver interface {
	ResolveJettonWallet(ctx context.Context, owner, jettonMaster string) (string, error)
}

// Broadcaster submits a signed jetton transfer to the chain.
type Broadcaster interface {
	BroadcastTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// SequenceChecker reports whether the bank wallet's seqno advanced past a
// previously observed value. Optional: a nil checker skips retry
// reconciliation and goes straight to re-broadcast.
type SequenceChecker interface {
	HasSeqNoAdvanced(ctx context.Context, prev uint64) (bool, uint64, error)
}

// ConfirmationChecker reads the chain-side outcome of a broadcast transfer.
type ConfirmationChecker interface {
	TransferStatus(ctx context.Context, hash string) (*TransferStatus, error)
}

// Task type, duplicated in internal/worker/tasks.go (import cycle).
const TypeRewardRetry = "reward:retry"

type RewardRetryPayload struct {
	TransactionID int64 `json:"transactionId"`
}

// DistributeRewardDTO carries a confirmed sighting into the distributor.
type DistributeRewardDTO struct {
	SightingID int64
	UserID     int64
	Wallet     string
	Count      int
}

// confirmationTimeout is how long a broadcasting transfer may sit
// unconfirmed before it is marked failed (retryable).
const confirmationTimeout = 15 * time.Minute

// stalePendingTimeout is how long a row may sit in pending before it is
// treated as orphaned by a crash between ledger create and broadcast.
const stalePendingTimeout = 5 * time.Minute

// RewardService orchestrates a confirmed sighting into an on-chain Corgi
// coin transfer: idempotency check, amount calculation, affordability guard,
// ledger record, broadcast, and status bookkeeping.
type RewardService struct {
	Ledger     *LedgerService
	Calculator *RewardCalculator
	Balance    *BalanceService
	Pending    *PendingRewardService

	resolver  WalletResolver
	caster    Broadcaster
	seq       SequenceChecker
	confirmer ConfirmationChecker
	notifier  Notifier

	asynqClient *asynq.Client

	bankWallet   string
	jettonMaster string
}

func NewRewardService(
	ledger *LedgerService,
	calculator *RewardCalculator,
	balance *BalanceService,
	pending *PendingRewardService,
	resolver WalletResolver,
	caster Broadcaster,
	seq SequenceChecker,
	confirmer ConfirmationChecker,
	notifier Notifier,
	asynqClient *asynq.Client,
	cfg config.ChainConfig,
) *RewardService {
	return &RewardService{
		Ledger:       ledger,
		Calculator:   calculator,
		Balance:      balance,
		Pending:      pending,
		resolver:     resolver,
		caster:       caster,
		seq:          seq,
		confirmer:    confirmer,
		notifier:     notifier,
		asynqClient:  asynqClient,
		bankWallet:   cfg.BankWallet,
		jettonMaster: cfg.JettonMaster,
	}
}

// Distribute pays out the reward for a confirmed sighting. It is idempotent
// on SightingID: a repeat call returns the existing transaction instead of
// paying twice. Failures surface as *RewardDistributionError.
func (s *RewardService) Distribute(ctx context.Context, data DistributeRewardDTO) (*models.Transaction, error) {
	// Idempotency check comes before anything else.
	existing, err := s.Ledger.GetBySightingID(data.SightingID)
	if err != nil {
		return nil, distributionErr("idempotency lookup failed", true, nil, err)
	}
	if existing != nil {
		return s.replayExisting(existing)
	}

	amount, err := s.Calculator.CalculateAmount(data.Count)
	if err != nil {
		return nil, distributionErr(err.Error(), false, nil, err)
	}

	// No connected wallet: park the reward instead of paying.
	if data.Wallet == "" {
		pending, perr := s.Pending.CreatePending(data.UserID, data.SightingID, amount, data.Count)
		if perr != nil {
			return nil, distributionErr("failed to park reward for walletless user", false, nil, perr)
		}
		log.Printf("Parked reward for sighting %d as pending reward %d (no wallet)", data.SightingID, pending.ID)
		return nil, distributionErr("recipient has no connected wallet", false, nil, nil)
	}
	if data.Wallet == s.bankWallet {
		return nil, distributionErr("recipient wallet is the bank wallet", false, nil, nil)
	}

	afford, err := s.Balance.CanAfford(ctx, amount)
	if err != nil {
		// Could not reach the chain; the whole attempt is retryable.
		return nil, distributionErr("balance check failed", true, nil, err)
	}
	if !afford.CanAfford {
		trx, ferr := s.recordUnaffordable(data, amount, afford.Reason)
		if ferr != nil {
			return nil, distributionErr("failed to record unaffordable transfer", false, nil, ferr)
		}
		return nil, distributionErr(afford.Reason, false, trx, nil)
	}

	senderAccount, err := s.resolver.ResolveJettonWallet(ctx, s.bankWallet, s.jettonMaster)
	if err != nil {
		return nil, distributionErr("failed to resolve bank jetton wallet", Classify(err).Retryable, nil, err)
	}
	destAccount, err := s.resolver.ResolveJettonWallet(ctx, data.Wallet, s.jettonMaster)
	if err != nil {
		return nil, distributionErr("failed to resolve recipient jetton wallet", Classify(err).Retryable, nil, err)
	}
	if destAccount == "" {
		return nil, distributionErr("recipient jetton wallet could not be derived", false, nil, nil)
	}

	trx, err := s.Ledger.Create(s.bankWallet, data.Wallet, amount, data.SightingID)
	if err == ErrSightingAlreadyRewarded {
		// Lost a concurrent race; the winner's record is the answer.
		existing, lerr := s.Ledger.GetBySightingID(data.SightingID)
		if lerr != nil || existing == nil {
			return nil, distributionErr("concurrent create race lookup failed", true, nil, lerr)
		}
		return s.replayExisting(existing)
	}
	if err != nil {
		return nil, distributionErr("failed to create ledger record", false, nil, err)
	}

	return s.broadcast(ctx, trx, senderAccount, destAccount, data.UserID, false)
}

// replayExisting maps an already-present ledger row to the idempotent replay
// behavior: completed and in-flight rows are returned as-is, failed rows need
// manual or scheduled intervention.
func (s *RewardService) replayExisting(trx *models.Transaction) (*models.Transaction, error) {
	switch trx.Status {
	case models.StatusCompleted, models.StatusBroadcasting, models.StatusPending:
		return trx, nil
	default:
		return nil, distributionErr(
			fmt.Sprintf("distribution for sighting %d already failed (retry %d/%d)", trx.SightingID, trx.RetryCount, models.MaxRetries),
			false, trx, nil)
	}
}

// recordUnaffordable writes a failed row so an unfunded bank wallet is
// discoverable by operators.
func (s *RewardService) recordUnaffordable(data DistributeRewardDTO, amount int64, reason string) (*models.Transaction, error) {
	trx, err := s.Ledger.Create(s.bankWallet, data.Wallet, amount, data.SightingID)
	if err != nil {
		return nil, err
	}
	return s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
		Status:        models.StatusFailed,
		LastError:     reason,
		FailureReason: models.FailureInsufficientBank,
	})
}

// broadcast attempts the transfer and applies success/failure bookkeeping.
// The chain-level query id is the ledger row id, stable across retries, so a
// re-broadcast of a transfer that actually landed is deduplicated on-chain.
func (s *RewardService) broadcast(ctx context.Context, trx *models.Transaction, senderAccount, destAccount string, userID int64, isRetry bool) (*models.Transaction, error) {
	result, err := s.caster.BroadcastTransfer(ctx, TransferRequest{
		SenderAccount: senderAccount,
		Destination:   destAccount,
		Amount:        trx.Amount,
		QueryID:       uint64(trx.ID),
	})
	if err != nil {
		return nil, s.recordBroadcastFailure(trx, err, isRetry)
	}

	updated, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
		Status:          models.StatusBroadcasting,
		TransactionHash: &result.Hash,
		SeqNo:           &result.SeqNo,
		IncrementRetry:  isRetry,
	})
	if uerr != nil {
		// The transfer is out; losing the status write must not trigger a
		// duplicate broadcast, so this is non-retryable.
		return nil, distributionErr("broadcast succeeded but status update failed", false, trx, uerr)
	}

	s.notifyAsync(userID, "reward_sent", updated)
	return updated, nil
}

func (s *RewardService) recordBroadcastFailure(trx *models.Transaction, cause error, isRetry bool) error {
	cls := Classify(cause)

	failed, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
		Status:         models.StatusFailed,
		LastError:      cls.Message,
		FailureReason:  models.FailureBroadcast,
		IncrementRetry: isRetry,
	})
	if uerr != nil {
		log.Printf("Failed to record broadcast failure for transaction %d: %v", trx.ID, uerr)
		failed = trx
	}

	retry := cls.Retryable && failed.RetryCount < models.MaxRetries
	if retry {
		s.scheduleRetry(failed)
	}
	return distributionErr("broadcast failed", retry, failed, cause)
}

// Retry re-attempts a failed transfer. Only failed rows under the retry cap
// are eligible; after reconciling against the bank wallet seqno it
// re-broadcasts with the original query id.
func (s *RewardService) Retry(ctx context.Context, trx *models.Transaction) (*models.Transaction, error) {
	if trx.Status != models.StatusFailed {
		return nil, distributionErr(
			fmt.Sprintf("transaction %d is %s, only failed transactions can be retried", trx.ID, trx.Status),
			false, trx, nil)
	}
	if trx.RetryCount >= models.MaxRetries {
		return nil, distributionErr(
			fmt.Sprintf("transaction %d has exhausted its %d retries, manual intervention required", trx.ID, models.MaxRetries),
			false, trx, nil)
	}

	// Reconciliation: if the bank wallet seqno advanced past the one recorded
	// at broadcast time, the earlier submission may have landed despite the
	// client-side error. Re-broadcasting would risk a double spend, so hand
	// the row back to confirmation monitoring instead.
	if s.seq != nil && trx.SeqNo != nil {
		advanced, current, err := s.seq.HasSeqNoAdvanced(ctx, *trx.SeqNo)
		if err != nil {
			return nil, distributionErr("seqno reconciliation failed", true, trx, err)
		}
		if advanced {
			log.Printf("Seqno advanced (%d -> %d) for transaction %d, assuming earlier broadcast landed", *trx.SeqNo, current, trx.ID)
			return s.Ledger.UpdateStatus(trx.ID, StatusUpdate{Status: models.StatusBroadcasting})
		}
	}

	afford, err := s.Balance.CanAfford(ctx, trx.Amount)
	if err != nil {
		return nil, distributionErr("balance re-check failed", true, trx, err)
	}
	if !afford.CanAfford {
		failed, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
			Status:         models.StatusFailed,
			LastError:      afford.Reason,
			FailureReason:  models.FailureInsufficientBank,
			IncrementRetry: true,
		})
		if uerr != nil {
			return nil, distributionErr("failed to record unaffordable retry", false, trx, uerr)
		}
		return nil, distributionErr(afford.Reason, false, failed, nil)
	}

	senderAccount, err := s.resolver.ResolveJettonWallet(ctx, s.bankWallet, s.jettonMaster)
	if err != nil {
		return nil, distributionErr("failed to resolve bank jetton wallet", Classify(err).Retryable, trx, err)
	}
	destAccount, err := s.resolver.ResolveJettonWallet(ctx, trx.ToWallet, s.jettonMaster)
	if err != nil {
		return nil, distributionErr("failed to resolve recipient jetton wallet", Classify(err).Retryable, trx, err)
	}

	return s.broadcast(ctx, trx, senderAccount, destAccount, 0, true)
}

// GetTransactionBySighting is the idempotent status lookup for polling UIs.
func (s *RewardService) GetTransactionBySighting(sightingID int64) (*models.Transaction, error) {
	return s.Ledger.GetBySightingID(sightingID)
}

// ProcessPendingRewards drains parked rewards for a user whose wallet just
// became available, distributing each pending sighting in turn.
func (s *RewardService) ProcessPendingRewards(ctx context.Context, userID int64, wallet string) error {
	pending, err := s.Pending.ListPending(userID)
	if err != nil {
		return err
	}

	for _, p := range pending {
		// The original sighting count is persisted on the parked row, so the
		// payout is recomputed through the one reward curve, never inverted
		// from the parked amount.
		trx, derr := s.Distribute(ctx, DistributeRewardDTO{
			SightingID: p.SightingID,
			UserID:     p.UserID,
			Wallet:     wallet,
			Count:      p.CorgiCount,
		})
		if derr != nil {
			log.Printf("Pending reward %d distribution failed: %v", p.ID, derr)
			continue
		}
		if merr := s.Pending.MarkProcessed(p.ID, trx.ID); merr != nil {
			log.Printf("Failed to mark pending reward %d processed: %v", p.ID, merr)
		}
	}
	return nil
}

// ConfirmBroadcasting sweeps broadcasting rows and settles them against the
// chain: exit code 0 completes the transfer, a nonzero exit code or a
// confirmation timeout fails it.
func (s *RewardService) ConfirmBroadcasting(ctx context.Context, limit int) error {
	if s.confirmer == nil {
		return nil
	}

	var list []models.Transaction
	err := s.Ledger.DB.
		Where("status = ? AND transaction_hash IS NOT NULL", models.StatusBroadcasting).
		Order("broadcast_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return err
	}

	for i := range list {
		trx := &list[i]
		status, serr := s.confirmer.TransferStatus(ctx, *trx.TransactionHash)
		if serr != nil {
			log.Printf("Confirmation check failed for transaction %d: %v", trx.ID, serr)
			continue
		}

		switch {
		case status.Confirmed && status.ExitCode == 0:
			if _, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{Status: models.StatusCompleted}); uerr != nil {
				log.Printf("Failed to complete transaction %d: %v", trx.ID, uerr)
				continue
			}
			if berr := s.Balance.RecordDistribution(trx.Amount); berr != nil {
				log.Printf("Failed to record distribution for transaction %d: %v", trx.ID, berr)
			}
		case status.Confirmed:
			_, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
				Status:        models.StatusFailed,
				LastError:     fmt.Sprintf("transfer confirmed with exit code %d", status.ExitCode),
				FailureReason: models.FailureConfirmation,
			})
			if uerr != nil {
				log.Printf("Failed to fail transaction %d: %v", trx.ID, uerr)
			}
		case trx.BroadcastAt != nil && time.Since(*trx.BroadcastAt) > confirmationTimeout:
			_, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
				Status:        models.StatusFailed,
				LastError:     "confirmation timed out",
				FailureReason: models.FailureConfirmation,
			})
			if uerr != nil {
				log.Printf("Failed to time out transaction %d: %v", trx.ID, uerr)
			}
		}
	}
	return nil
}

// RecoverStalePending fails pending rows whose broadcast never happened, so
// the retry sweep picks them up instead of leaving the reward stranded. No
// retry is burned: the transfer was never attempted.
func (s *RewardService) RecoverStalePending(limit int) error {
	stale, err := s.Ledger.ListStalePending(stalePendingTimeout, limit)
	if err != nil {
		return err
	}

	for i := range stale {
		trx := &stale[i]
		failed, uerr := s.Ledger.UpdateStatus(trx.ID, StatusUpdate{
			Status:        models.StatusFailed,
			LastError:     "broadcast never attempted",
			FailureReason: models.FailureBroadcast,
		})
		if uerr != nil {
			log.Printf("Failed to recover stale pending transaction %d: %v", trx.ID, uerr)
			continue
		}
		log.Printf("Recovered stale pending transaction %d for sighting %d", failed.ID, failed.SightingID)
		s.scheduleRetry(failed)
	}
	return nil
}

// scheduleRetry enqueues a retry task with exponential backoff. Best effort:
// the cron sweeper picks the row up regardless.
func (s *RewardService) scheduleRetry(trx *models.Transaction) {
	if s.asynqClient == nil {
		return
	}

	payload, err := json.Marshal(RewardRetryPayload{TransactionID: trx.ID})
	if err != nil {
		log.Printf("Failed to marshal retry payload for transaction %d: %v", trx.ID, err)
		return
	}

	delay := time.Duration(1<<uint(trx.RetryCount)) * time.Second
	task := asynq.NewTask(TypeRewardRetry, payload)
	if _, err := s.asynqClient.Enqueue(task, asynq.ProcessIn(delay), asynq.MaxRetry(0)); err != nil {
		log.Printf("Failed to enqueue retry for transaction %d: %v", trx.ID, err)
	}
}

// notifyAsync dispatches a notification without blocking or failing the
// caller. Errors are logged and discarded.
func (s *RewardService) notifyAsync(userID int64, event string, trx *models.Transaction) {
	if s.notifier == nil || userID == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"sightingId": trx.SightingID,
		"amount":     trx.Amount,
		"status":     trx.Status,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, userID, event, string(payload)); err != nil {
			log.Printf("Notification %q for user %d failed: %v", event, userID, err)
		}
	}()
}

// StartRetryScheduler sweeps retryable failures every minute and enqueues
// them for the worker. Backoff eligibility is enforced by ListRetryable.
func (s *RewardService) StartRetryScheduler() {
	c := cron.New()
	_, err := c.AddFunc("* * * * *", func() {
		if err := s.RecoverStalePending(50); err != nil {
			log.Printf("Error recovering stale pending transactions: %v", err)
		}

		retryable, err := s.Ledger.ListRetryable(50)
		if err != nil {
			log.Printf("Error listing retryable transactions: %v", err)
			return
		}
		for i := range retryable {
			s.scheduleRetry(&retryable[i])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		if err := s.ConfirmBroadcasting(ctx, 50); err != nil {
			log.Printf("Error confirming broadcasting transactions: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling reward retry sweep: %v", err)
		return
	}
	c.Start()
	log.Println("RewardService retry scheduler started (every minute)")
}
