package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corgi-rewards/internal/config"
)

func newBalanceHarness(t *testing.T, chain *fakeChain) *BalanceService {
	t.Helper()
	return NewBalanceService(newTestDB(t), chain, config.ChainConfig{
		BankWallet:   testBankWallet,
		JettonMaster: testJettonMaster,
	})
}

func TestCanAfford(t *testing.T) {
	chain := &fakeChain{balance: 500}
	svc := newBalanceHarness(t, chain)

	res, err := svc.CanAfford(context.Background(), 400)
	require.NoError(t, err)
	assert.True(t, res.CanAfford)
	assert.Equal(t, int64(500), res.Balance)

	res, err = svc.CanAfford(context.Background(), 501)
	require.NoError(t, err)
	assert.False(t, res.CanAfford)
	assert.NotEmpty(t, res.Reason)

	// Exact balance is affordable.
	res, err = svc.CanAfford(context.Background(), 500)
	require.NoError(t, err)
	assert.True(t, res.CanAfford)
}

func TestCanAffordChainError(t *testing.T) {
	chain := &fakeChain{balanceErr: errors.New("lite server unavailable")}
	svc := newBalanceHarness(t, chain)

	_, err := svc.CanAfford(context.Background(), 1)
	require.Error(t, err, "a chain failure must not resolve to an answer")
}

func TestSyncBalanceAndRecordDistribution(t *testing.T) {
	chain := &fakeChain{balance: 1000}
	svc := newBalanceHarness(t, chain)

	// Recording before the first sync has no row to update.
	require.Error(t, svc.RecordDistribution(10))

	require.NoError(t, svc.SyncBalance(context.Background()))
	bank, err := svc.GetBankWallet()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bank.CurrentBalance)
	require.NotNil(t, bank.SyncedAt)

	require.NoError(t, svc.RecordDistribution(300))
	bank, err = svc.GetBankWallet()
	require.NoError(t, err)
	assert.Equal(t, int64(700), bank.CurrentBalance)
	assert.Equal(t, int64(300), bank.TotalDistributed)

	// A re-sync overwrites the cached balance but keeps the running total.
	chain.mu.Lock()
	chain.balance = 650
	chain.mu.Unlock()
	require.NoError(t, svc.SyncBalance(context.Background()))
	bank, err = svc.GetBankWallet()
	require.NoError(t, err)
	assert.Equal(t, int64(650), bank.CurrentBalance)
	assert.Equal(t, int64(300), bank.TotalDistributed)
}
