package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"corgi-rewards/internal/consumers"
)

// Task Types
const (
	TypeRewardRetry   = "reward:retry"
	TypePendingReward = "reward:pending"
)

// Task Creators

func NewRewardRetryTask(payload consumers.RewardRetryDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRewardRetry, data), nil
}

func NewPendingRewardTask(payload consumers.PendingRewardDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePendingReward, data), nil
}
