package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"corgi-rewards/internal/models"
	"corgi-rewards/pkg/common"
)

// ErrSightingAlreadyRewarded is returned by Create when a non-failed
// transaction already exists for the sighting.
var ErrSightingAlreadyRewarded = errors.New("a non-failed transaction already exists for this sighting")

// LedgerService is the sole write path for transaction rows. Rows are never
// deleted; a failed row is the audit trail of the attempt.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// allowedTransitions encodes the transaction state machine. A failed row may
// record another failed attempt (retry bookkeeping) or move back to
// broadcasting when a re-broadcast goes through.
var allowedTransitions = map[string][]string{
	models.StatusPending:      {models.StatusBroadcasting, models.StatusFailed},
	models.StatusBroadcasting: {models.StatusCompleted, models.StatusFailed},
	models.StatusFailed:       {models.StatusBroadcasting, models.StatusFailed},
	models.StatusCompleted:    {},
}

func transitionAllowed(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusUpdate is a partial update applied through UpdateStatus. Timestamps
// are managed by the ledger itself, not passed in.
type StatusUpdate struct {
	Status          string
	TransactionHash *string
	SeqNo           *uint64
	LastError       string
	FailureReason   string
	IncrementRetry  bool
}

// Create records a new transfer attempt in pending state. The unique index on
// active_sighting_id makes the insert itself the idempotency check: a
// concurrent create for the same sighting loses the race and gets
// ErrSightingAlreadyRewarded.
func (s *LedgerService) Create(fromWallet, toWallet string, amount int64, sightingID int64) (*models.Transaction, error) {
	if fromWallet == toWallet {
		return nil, fmt.Errorf("sender and recipient wallet must differ")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amount)
	}

	active := sightingID
	trx := models.Transaction{
		Reference:        common.GenerateReference(),
		FromWallet:       fromWallet,
		ToWallet:         toWallet,
		Amount:           amount,
		Status:           models.StatusPending,
		SightingID:       sightingID,
		ActiveSightingID: &active,
	}

	if err := s.DB.Create(&trx).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, ErrSightingAlreadyRewarded
		}
		return nil, err
	}
	return &trx, nil
}

// GetBySightingID returns the transaction for a sighting, preferring the
// non-failed row. Returns nil without error when none exists.
func (s *LedgerService) GetBySightingID(sightingID int64) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.Where("active_sighting_id = ?", sightingID).First(&trx).Error
	if err == nil {
		return &trx, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.DB.Where("sighting_id = ?", sightingID).Order("id DESC").First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// GetByID loads a transaction row.
func (s *LedgerService) GetByID(id int64) (*models.Transaction, error) {
	var trx models.Transaction
	if err := s.DB.First(&trx, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trx, nil
}

// UpdateStatus applies a state transition. Illegal transitions fail with
// *IllegalTransitionError. The write is guarded by a compare-and-swap on the
// current status so two concurrent transitions cannot both win.
func (s *LedgerService) UpdateStatus(id int64, upd StatusUpdate) (*models.Transaction, error) {
	var out models.Transaction

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var trx models.Transaction
		if err := tx.First(&trx, id).Error; err != nil {
			return fmt.Errorf("load transaction %d: %w", id, err)
		}

		if !transitionAllowed(trx.Status, upd.Status) {
			return &IllegalTransitionError{TransactionID: id, From: trx.Status, To: upd.Status}
		}

		now := time.Now()
		updates := map[string]interface{}{"status": upd.Status}

		switch upd.Status {
		case models.StatusBroadcasting:
			updates["broadcast_at"] = now
			if trx.Status == models.StatusFailed {
				// Re-broadcast of a failed row: it becomes non-failed again,
				// so it reclaims the active slot for its sighting.
				updates["active_sighting_id"] = trx.SightingID
			}
		case models.StatusCompleted:
			updates["confirmed_at"] = now
			updates["completed_at"] = now
		case models.StatusFailed:
			updates["active_sighting_id"] = nil
		}

		if upd.TransactionHash != nil {
			updates["transaction_hash"] = *upd.TransactionHash
		}
		if upd.SeqNo != nil {
			updates["seq_no"] = *upd.SeqNo
		}
		if upd.LastError != "" {
			updates["last_error"] = upd.LastError
		}
		if upd.FailureReason != "" {
			updates["failure_reason"] = upd.FailureReason
		}
		if upd.IncrementRetry {
			if trx.RetryCount >= models.MaxRetries {
				return fmt.Errorf("transaction %d has exhausted its %d retries", id, models.MaxRetries)
			}
			updates["retry_count"] = trx.RetryCount + 1
			updates["last_retry_at"] = now
		}

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", id, trx.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("transaction %d changed concurrently, update aborted", id)
		}

		if err := tx.First(&out, id).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRetryable returns failed rows still under the retry cap whose
// exponential backoff window has elapsed. The backoff comparison
// (last_retry_at + 2^retry_count seconds) is computed here rather than
// pushed into SQL, so it does not depend on any database function library.
func (s *LedgerService) ListRetryable(limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	// Rows still inside their backoff window can sort ahead of eligible ones,
	// so fetch a wider page than requested before filtering.
	var candidates []models.Transaction
	err := s.DB.
		Where("status = ? AND retry_count < ?", models.StatusFailed, models.MaxRetries).
		Order("last_retry_at ASC").
		Limit(limit * 4).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	now := time.Now()
	eligible := make([]models.Transaction, 0, limit)
	for _, c := range candidates {
		if len(eligible) == limit {
			break
		}
		if c.LastRetryAt != nil {
			wait := time.Duration(1<<uint(c.RetryCount)) * time.Second
			if now.Before(c.LastRetryAt.Add(wait)) {
				continue
			}
		}
		eligible = append(eligible, c)
	}
	return eligible, nil
}

// ListStalePending returns pending rows created before the given age. A row
// only sits in pending between creation and the broadcast call, so anything
// older was orphaned by a crash in between.
func (s *LedgerService) ListStalePending(olderThan time.Duration, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-olderThan)

	var list []models.Transaction
	err := s.DB.
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListTransactions pages through the ledger for operator review.
func (s *LedgerService) ListTransactions(status string, page, limit int) ([]models.Transaction, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := s.DB.Model(&models.Transaction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.Transaction
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "unique constraint")
}
