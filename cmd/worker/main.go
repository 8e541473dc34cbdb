package main

import (
	"log"

	"github.com/hibiken/asynq"

	"corgi-rewards/internal/config"
	"corgi-rewards/internal/consumers"
	"corgi-rewards/internal/database"
	"corgi-rewards/internal/services"
	"corgi-rewards/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect DB
	database.Connect(cfg.Database)
	db := database.DB

	// Chain gateway client
	tonClient := services.NewTonClient(cfg.Chain)

	// Notification Client
	notificationClient, err := services.NewNotificationClient(cfg.Notify.ServiceURL)
	if err != nil {
		log.Fatalf("Failed to create notification client: %v", err)
	}
	defer notificationClient.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr})
	defer asynqClient.Close()

	// Core Services
	ledgerService := services.NewLedgerService(db)
	calculator := services.NewRewardCalculator(cfg.Chain.Decimals)
	balanceService := services.NewBalanceService(db, tonClient, cfg.Chain)
	pendingService := services.NewPendingRewardService(db)

	rewardService := services.NewRewardService(
		ledgerService,
		calculator,
		balanceService,
		pendingService,
		tonClient,
		tonClient,
		tonClient,
		tonClient,
		notificationClient,
		asynqClient,
		cfg.Chain,
	)

	// Processor
	processor := consumers.NewRewardProcessor(rewardService, ledgerService)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr}

	log.Println("Starting Asynq Worker...")
	worker.StartWorker(redisOpt, processor)
}
