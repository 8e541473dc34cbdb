package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"corgi-rewards/internal/models"
)

// PendingRewardService owns the pending_rewards overflow table: rewards owed
// to users who had no connected wallet at confirmation time.
type PendingRewardService struct {
	DB *gorm.DB
}

func NewPendingRewardService(db *gorm.DB) *PendingRewardService {
	return &PendingRewardService{DB: db}
}

// CreatePending parks a reward. amount is in smallest units; count is the
// sighting count it was computed from. A pending row has no transaction id
// yet; that invariant is only broken by MarkProcessed.
func (s *PendingRewardService) CreatePending(userID, sightingID, amount int64, count int) (*models.PendingReward, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amount)
	}
	if count < 1 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	reward := models.PendingReward{
		UserID:     userID,
		SightingID: sightingID,
		Amount:     amount,
		CorgiCount: count,
		Status:     models.PendingRewardPending,
	}
	if err := s.DB.Create(&reward).Error; err != nil {
		if isDuplicateKeyErr(err) {
			var existing models.PendingReward
			if ferr := s.DB.Where("sighting_id = ?", sightingID).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &reward, nil
}

// ListPending returns a user's unprocessed rewards, oldest first.
func (s *PendingRewardService) ListPending(userID int64) ([]models.PendingReward, error) {
	var list []models.PendingReward
	err := s.DB.
		Where("user_id = ? AND status = ?", userID, models.PendingRewardPending).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// MarkProcessed links a pending reward to the transaction that paid it out.
func (s *PendingRewardService) MarkProcessed(id, transactionID int64) error {
	now := time.Now()
	res := s.DB.Model(&models.PendingReward{}).
		Where("id = ? AND status = ?", id, models.PendingRewardPending).
		Updates(map[string]interface{}{
			"status":         models.PendingRewardProcessed,
			"transaction_id": transactionID,
			"processed_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pending reward %d is not in pending state", id)
	}
	return nil
}

// Cancel drops a parked reward without paying it.
func (s *PendingRewardService) Cancel(id int64) error {
	res := s.DB.Model(&models.PendingReward{}).
		Where("id = ? AND status = ?", id, models.PendingRewardPending).
		Update("status", models.PendingRewardCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pending reward %d is not in pending state", id)
	}
	return nil
}

// GetBySightingID looks up a parked reward by sighting.
func (s *PendingRewardService) GetBySightingID(sightingID int64) (*models.PendingReward, error) {
	var reward models.PendingReward
	err := s.DB.Where("sighting_id = ?", sightingID).First(&reward).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reward, nil
}
