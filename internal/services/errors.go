package services

import (
	"errors"
	"fmt"

	"corgi-rewards/internal/models"
)

// ErrInvalidCount is returned by the reward calculator for a sighting count
// outside the accepted range.
var ErrInvalidCount = errors.New("sighting count must be between 1 and 100")

// IllegalTransitionError is returned by the ledger when a status update does
// not follow the transaction state machine.
type IllegalTransitionError struct {
	TransactionID int64
	From          string
	To            string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s for transaction %d", e.From, e.To, e.TransactionID)
}

// RewardDistributionError is the failure surface of the distributor.
// ShouldRetry tells the caller whether scheduling a retry can help;
// Transaction, when set, is the ledger row recording the failure.
type RewardDistributionError struct {
	Message     string
	ShouldRetry bool
	Transaction *models.Transaction
	Err         error
}

func (e *RewardDistributionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reward distribution failed: %s: %v", e.Message, e.Err)
	}
	return "reward distribution failed: " + e.Message
}

func (e *RewardDistributionError) Unwrap() error {
	return e.Err
}

func distributionErr(msg string, retry bool, tx *models.Transaction, cause error) *RewardDistributionError {
	return &RewardDistributionError{Message: msg, ShouldRetry: retry, Transaction: tx, Err: cause}
}
