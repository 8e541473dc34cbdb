package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"corgi-rewards/internal/consumers"
)

type Worker struct {
	Processor *consumers.RewardProcessor
}

func NewWorker(processor *consumers.RewardProcessor) *Worker {
	return &Worker{
		Processor: processor,
	}
}

func (w *Worker) HandleRewardRetry(ctx context.Context, t *asynq.Task) error {
	var p consumers.RewardRetryDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessRewardRetry(ctx, p)
}

func (w *Worker) HandlePendingReward(ctx context.Context, t *asynq.Task) error {
	var p consumers.PendingRewardDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessPendingReward(ctx, p)
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.RewardProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeRewardRetry, worker.HandleRewardRetry)
	mux.HandleFunc(TypePendingReward, worker.HandlePendingReward)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
