package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"corgi-rewards/internal/config"
	"corgi-rewards/internal/models"
)

const testJettonMaster = "EQJettonMaster00000000000000000000000000000000"

// fakeChain stands in for the chain gateway across all four chain-facing
// interfaces of the reward service.
type fakeChain struct {
	mu sync.Mutex

	balance    int64
	balanceErr error

	resolveErr   error
	broadcastErr error
	broadcasts   int
	seqno        uint64

	seqAdvanced bool
	seqErr      error

	statuses  map[string]*TransferStatus
	statusErr error
}

func (f *fakeChain) JettonBalance(ctx context.Context, owner, jettonMaster string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeChain) ResolveJettonWallet(ctx context.Context, owner, jettonMaster string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "jetton:" + owner, nil
}

func (f *fakeChain) BroadcastTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	f.seqno++
	return &TransferResult{
		Hash:      fmt.Sprintf("hash-%d-%d", req.QueryID, f.broadcasts),
		SeqNo:     f.seqno,
		Timestamp: time.Now(),
	}, nil
}

func (f *fakeChain) HasSeqNoAdvanced(ctx context.Context, prev uint64) (bool, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seqErr != nil {
		return false, 0, f.seqErr
	}
	return f.seqAdvanced, prev + 1, nil
}

func (f *fakeChain) TransferStatus(ctx context.Context, hash string) (*TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if st, ok := f.statuses[hash]; ok {
		return st, nil
	}
	return &TransferStatus{Confirmed: false}, nil
}

func (f *fakeChain) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, event string, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func newRewardHarness(t *testing.T, chain *fakeChain) (*RewardService, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	cfg := config.ChainConfig{
		BankWallet:   testBankWallet,
		JettonMaster: testJettonMaster,
		Decimals:     9,
	}
	ledger := NewLedgerService(db)
	svc := NewRewardService(
		ledger,
		NewRewardCalculator(cfg.Decimals),
		NewBalanceService(db, chain, cfg),
		NewPendingRewardService(db),
		chain, chain, chain, chain,
		&fakeNotifier{},
		nil,
		cfg,
	)
	return svc, db
}

func fundedChain() *fakeChain {
	return &fakeChain{balance: 1_000_000_000_000}
}

func TestDistribute(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	trx, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusBroadcasting, trx.Status)
	assert.Equal(t, int64(3_000_000_000), trx.Amount)
	require.NotNil(t, trx.TransactionHash)
	require.NotNil(t, trx.SeqNo)
	assert.Equal(t, 1, chain.broadcastCount())
}

func TestDistributeIdempotentReplay(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	dto := DistributeRewardDTO{SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 2}

	first, err := svc.Distribute(context.Background(), dto)
	require.NoError(t, err)

	second, err := svc.Distribute(context.Background(), dto)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, chain.broadcastCount(), "replay must not broadcast again")
}

func TestDistributeInvalidCount(t *testing.T) {
	svc, _ := newRewardHarness(t, fundedChain())

	for _, count := range []int{0, -1, 101} {
		_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
			SightingID: int64(count + 200), UserID: 1, Wallet: testUserWallet, Count: count,
		})
		var derr *RewardDistributionError
		require.ErrorAs(t, err, &derr, "count=%d", count)
		assert.False(t, derr.ShouldRetry)
	}
}

func TestDistributeInsufficientBank(t *testing.T) {
	chain := &fakeChain{balance: 100} // nowhere near 1 coin
	svc, db := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 9, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.ShouldRetry, "an unfunded bank is not fixed by retrying")
	require.NotNil(t, derr.Transaction)
	assert.Equal(t, models.StatusFailed, derr.Transaction.Status)
	assert.Equal(t, models.FailureInsufficientBank, derr.Transaction.FailureReason)
	assert.Equal(t, 0, chain.broadcastCount())

	// The failed row is on record for operators.
	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("sighting_id = ? AND status = ?", 9, models.StatusFailed).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDistributeBalanceCheckUnavailable(t *testing.T) {
	chain := &fakeChain{balanceErr: errors.New("connection refused")}
	svc, _ := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.ShouldRetry, "an unreachable chain is transient")
}

func TestDistributeWalletlessUserParksReward(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 5, UserID: 42, Wallet: "", Count: 4,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.ShouldRetry)
	assert.Equal(t, 0, chain.broadcastCount())

	parked, err := svc.Pending.GetBySightingID(5)
	require.NoError(t, err)
	require.NotNil(t, parked)
	assert.Equal(t, models.PendingRewardPending, parked.Status)
	assert.Equal(t, int64(4_000_000_000), parked.Amount)
	assert.Equal(t, 4, parked.CorgiCount, "the sighting count is persisted for the drain")

	// Parking is idempotent too.
	_, err = svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 5, UserID: 42, Wallet: "", Count: 4,
	})
	require.Error(t, err)
	var count int64
	require.NoError(t, svc.Pending.DB.Model(&models.PendingReward{}).
		Where("sighting_id = ?", 5).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDistributeConcurrentSameSighting(t *testing.T) {
	chain := fundedChain()
	svc, db := newRewardHarness(t, chain)

	dto := DistributeRewardDTO{SightingID: 33, UserID: 100, Wallet: testUserWallet, Count: 2}

	var wg sync.WaitGroup
	results := make([]*models.Transaction, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Distribute(context.Background(), dto)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i], "call %d", i)
		require.NotNil(t, results[i], "call %d", i)
	}
	assert.Equal(t, results[0].ID, results[1].ID, "both callers must observe the same transaction")
	assert.Equal(t, 1, chain.broadcastCount(), "only the race winner broadcasts")

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("sighting_id = ? AND status <> ?", 33, models.StatusFailed).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDistributeBroadcastFailureRetryable(t *testing.T) {
	chain := fundedChain()
	chain.broadcastErr = errors.New("timeout waiting for gateway")
	svc, _ := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.ShouldRetry)
	require.NotNil(t, derr.Transaction)
	assert.Equal(t, models.StatusFailed, derr.Transaction.Status)
	assert.Equal(t, models.FailureBroadcast, derr.Transaction.FailureReason)
	assert.Nil(t, derr.Transaction.ActiveSightingID, "failed row releases the sighting slot")
}

func TestDistributeBroadcastFailurePermanent(t *testing.T) {
	chain := fundedChain()
	chain.broadcastErr = errors.New("invalid destination address")
	svc, _ := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.ShouldRetry)
}

func TestRetryAfterTransientFailure(t *testing.T) {
	chain := fundedChain()
	chain.broadcastErr = errors.New("connection reset by peer")
	svc, _ := newRewardHarness(t, chain)

	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	failed := derr.Transaction
	require.NotNil(t, failed)

	chain.mu.Lock()
	chain.broadcastErr = nil
	chain.mu.Unlock()

	retried, err := svc.Retry(context.Background(), failed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroadcasting, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	require.NotNil(t, retried.TransactionHash)
	require.NotNil(t, retried.ActiveSightingID)
	assert.Equal(t, 2, chain.broadcastCount())
}

func TestRetryRejectsNonFailed(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	trx, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	require.NoError(t, err)

	_, err = svc.Retry(context.Background(), trx)
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.ShouldRetry)
	assert.Equal(t, 1, chain.broadcastCount())
}

func TestRetryRejectsExhausted(t *testing.T) {
	svc, _ := newRewardHarness(t, fundedChain())

	trx := &models.Transaction{
		ID:         1,
		Status:     models.StatusFailed,
		RetryCount: models.MaxRetries,
	}
	_, err := svc.Retry(context.Background(), trx)
	var derr *RewardDistributionError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.ShouldRetry)
}

// A retry where the bank seqno advanced must not re-broadcast: the earlier
// submission likely landed and paying again would double spend.
func TestRetrySeqnoReconciliation(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	trx, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	require.NoError(t, err)

	failed, err := svc.Ledger.UpdateStatus(trx.ID, StatusUpdate{
		Status:        models.StatusFailed,
		LastError:     "timeout",
		FailureReason: models.FailureBroadcast,
	})
	require.NoError(t, err)

	chain.mu.Lock()
	chain.seqAdvanced = true
	chain.mu.Unlock()

	reconciled, err := svc.Retry(context.Background(), failed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroadcasting, reconciled.Status)
	assert.Equal(t, 0, reconciled.RetryCount, "reconciliation does not burn a retry")
	assert.Equal(t, 1, chain.broadcastCount(), "no second broadcast after seqno advanced")
}

func TestConfirmBroadcasting(t *testing.T) {
	chain := fundedChain()
	svc, db := newRewardHarness(t, chain)
	require.NoError(t, svc.Balance.SyncBalance(context.Background()))

	ok, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 2,
	})
	require.NoError(t, err)
	bad, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 2, UserID: 101, Wallet: testUserWallet, Count: 1,
	})
	require.NoError(t, err)

	chain.mu.Lock()
	chain.statuses = map[string]*TransferStatus{
		*ok.TransactionHash:  {Confirmed: true, ExitCode: 0},
		*bad.TransactionHash: {Confirmed: true, ExitCode: 709},
	}
	chain.mu.Unlock()

	require.NoError(t, svc.ConfirmBroadcasting(context.Background(), 50))

	settled, err := svc.Ledger.GetByID(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	require.NotNil(t, settled.CompletedAt)

	rejected, err := svc.Ledger.GetByID(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rejected.Status)
	assert.Equal(t, models.FailureConfirmation, rejected.FailureReason)
	assert.Contains(t, rejected.LastError, "709")

	// Completed transfers roll into the bank wallet stats.
	var bank models.BankWallet
	require.NoError(t, db.Where("address = ?", testBankWallet).First(&bank).Error)
	assert.Equal(t, settled.Amount, bank.TotalDistributed)
}

func TestConfirmBroadcastingTimeout(t *testing.T) {
	chain := fundedChain()
	svc, db := newRewardHarness(t, chain)

	trx, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	require.NoError(t, err)

	// Age the broadcast past the confirmation window.
	stale := time.Now().Add(-confirmationTimeout - time.Minute)
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("id = ?", trx.ID).
		Update("broadcast_at", stale).Error)

	require.NoError(t, svc.ConfirmBroadcasting(context.Background(), 50))

	timedOut, err := svc.Ledger.GetByID(trx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, timedOut.Status)
	assert.Equal(t, models.FailureConfirmation, timedOut.FailureReason)
}

func TestProcessPendingRewards(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)

	// Two sightings confirmed before the user connected a wallet.
	_, err := svc.Distribute(context.Background(), DistributeRewardDTO{SightingID: 1, UserID: 42, Wallet: "", Count: 1})
	require.Error(t, err)
	_, err = svc.Distribute(context.Background(), DistributeRewardDTO{SightingID: 2, UserID: 42, Wallet: "", Count: 3})
	require.Error(t, err)

	require.NoError(t, svc.ProcessPendingRewards(context.Background(), 42, testUserWallet))
	assert.Equal(t, 2, chain.broadcastCount())

	remaining, err := svc.Pending.ListPending(42)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	for _, sighting := range []int64{1, 2} {
		trx, err := svc.Ledger.GetBySightingID(sighting)
		require.NoError(t, err)
		require.NotNil(t, trx, "sighting %d", sighting)
		assert.Equal(t, models.StatusBroadcasting, trx.Status)

		parked, err := svc.Pending.GetBySightingID(sighting)
		require.NoError(t, err)
		require.NotNil(t, parked)
		assert.Equal(t, models.PendingRewardProcessed, parked.Status)
		require.NotNil(t, parked.TransactionID)
		assert.Equal(t, trx.ID, *parked.TransactionID)

		// The drain recomputes the payout from the persisted sighting count
		// through the one reward curve, so it equals the parked amount.
		assert.Equal(t, parked.Amount, trx.Amount, "sighting %d", sighting)
		expected, err := svc.Calculator.CalculateAmount(parked.CorgiCount)
		require.NoError(t, err)
		assert.Equal(t, expected, trx.Amount, "sighting %d", sighting)
	}
}

// A row orphaned in pending (crash between ledger create and broadcast) must
// be recoverable: the sweep fails it and the retry path re-broadcasts.
func TestRecoverStalePending(t *testing.T) {
	chain := fundedChain()
	svc, db := newRewardHarness(t, chain)

	trx, err := svc.Ledger.Create(testBankWallet, testUserWallet, 1_000_000_000, 8)
	require.NoError(t, err)

	// A fresh pending row is left alone.
	require.NoError(t, svc.RecoverStalePending(50))
	fresh, err := svc.Ledger.GetByID(trx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)

	old := time.Now().Add(-stalePendingTimeout - time.Minute)
	require.NoError(t, db.Model(&models.Transaction{}).Where("id = ?", trx.ID).Update("created_at", old).Error)

	require.NoError(t, svc.RecoverStalePending(50))
	recovered, err := svc.Ledger.GetByID(trx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, recovered.Status)
	assert.Equal(t, models.FailureBroadcast, recovered.FailureReason)
	assert.Equal(t, 0, recovered.RetryCount, "recovery does not burn a retry")

	retryable, err := svc.Ledger.ListRetryable(50)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, trx.ID, retryable[0].ID)

	rebroadcast, err := svc.Retry(context.Background(), recovered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroadcasting, rebroadcast.Status)
	assert.Equal(t, 1, chain.broadcastCount(), "recovery ends in an actual broadcast")
}

// A failing notification service must not fail the payout.
func TestNotificationFailureDoesNotPropagate(t *testing.T) {
	chain := fundedChain()
	svc, _ := newRewardHarness(t, chain)
	notifier := &fakeNotifier{err: errors.New("notification service down")}
	svc.notifier = notifier

	trx, err := svc.Distribute(context.Background(), DistributeRewardDTO{
		SightingID: 1, UserID: 100, Wallet: testUserWallet, Count: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroadcasting, trx.Status)
}
