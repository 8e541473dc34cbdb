package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"corgi-rewards/internal/config"
	"corgi-rewards/internal/database"
	"corgi-rewards/internal/handlers"
	"corgi-rewards/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	// Initialize Database
	database.Connect(cfg.Database)
	database.Migrate()
	db := database.DB

	// Chain gateway client
	tonClient := services.NewTonClient(cfg.Chain)

	// Notification Client
	notificationClient, err := services.NewNotificationClient(cfg.Notify.ServiceURL)
	if err != nil {
		log.Fatalf("Failed to create notification client: %v", err)
	}
	defer notificationClient.Close()

	// Redis/Asynq Client
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

	rewardHandler := handlers.NewRewardHandler(rewardService, ledgerService, balanceService, pendingService, asynqClient)

	// Initialize Gin
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to Corgi Rewards service",
		})
	})

	r.POST("/rewards/distribute", rewardHandler.Distribute)
	r.GET("/rewards/sightings/:sightingId", rewardHandler.GetBySighting)
	r.POST("/rewards/transactions/:id/retry", rewardHandler.Retry)
	r.GET("/rewards/transactions", rewardHandler.ListTransactions)
	r.POST("/rewards/wallet-connected", rewardHandler.WalletConnected)
	r.GET("/bank/balance", rewardHandler.GetBankBalance)

	// Start Cron Schedulers
	rewardService.StartRetryScheduler()
	balanceService.StartScheduler()

	log.Printf("HTTP Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
