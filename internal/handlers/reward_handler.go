package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"corgi-rewards/internal/consumers"
	"corgi-rewards/internal/services"
	"corgi-rewards/internal/worker"
	"corgi-rewards/pkg/common"
)

type RewardHandler struct {
	Reward      *services.RewardService
	Ledger      *services.LedgerService
	Balance     *services.BalanceService
	Pending     *services.PendingRewardService
	AsynqClient *asynq.Client
}

func NewRewardHandler(reward *services.RewardService, ledger *services.LedgerService, balance *services.BalanceService, pending *services.PendingRewardService, asynqClient *asynq.Client) *RewardHandler {
	return &RewardHandler{
		Reward:      reward,
		Ledger:      ledger,
		Balance:     balance,
		Pending:     pending,
		AsynqClient: asynqClient,
	}
}

type DistributeRequest struct {
	SightingID int64  `json:"sighting_id" binding:"required"`
	UserID     int64  `json:"user_id" binding:"required"`
	Wallet     string `json:"wallet"`
	Count      int    `json:"count" binding:"required"`
}

// Distribute triggers the reward payout for a confirmed sighting. The
// sighting confirmation itself already happened upstream; a payout failure
// here is reported but must not be read as a confirmation failure.
func (h *RewardHandler) Distribute(c *gin.Context) {
	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		return
	}

	trx, err := h.Reward.Distribute(c.Request.Context(), services.DistributeRewardDTO{
		SightingID: req.SightingID,
		UserID:     req.UserID,
		Wallet:     req.Wallet,
		Count:      req.Count,
	})
	if err != nil {
		var distErr *services.RewardDistributionError
		if errors.As(err, &distErr) {
			c.JSON(http.StatusUnprocessableEntity, common.NewErrorResponse(distErr.Message, gin.H{
				"shouldRetry": distErr.ShouldRetry,
				"transaction": distErr.Transaction,
			}, http.StatusUnprocessableEntity))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "Reward distribution started"))
}

// GetBySighting is the idempotent status lookup for polling UIs.
func (h *RewardHandler) GetBySighting(c *gin.Context) {
	sightingID, err := strconv.ParseInt(c.Param("sightingId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("Invalid sighting id", nil, http.StatusBadRequest))
		return
	}

	trx, err := h.Reward.GetTransactionBySighting(sightingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}
	if trx == nil {
		c.JSON(http.StatusNotFound, common.NewErrorResponse("No transaction for this sighting", nil, http.StatusNotFound))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "Successful"))
}

// Retry re-attempts a failed transfer on operator request.
func (h *RewardHandler) Retry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("Invalid transaction id", nil, http.StatusBadRequest))
		return
	}

	trx, err := h.Ledger.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}
	if trx == nil {
		c.JSON(http.StatusNotFound, common.NewErrorResponse("Transaction not found", nil, http.StatusNotFound))
		return
	}

	updated, err := h.Reward.Retry(c.Request.Context(), trx)
	if err != nil {
		var distErr *services.RewardDistributionError
		if errors.As(err, &distErr) {
			c.JSON(http.StatusUnprocessableEntity, common.NewErrorResponse(distErr.Message, gin.H{
				"shouldRetry": distErr.ShouldRetry,
				"transaction": distErr.Transaction,
			}, http.StatusUnprocessableEntity))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(updated, "Retry attempted"))
}

// ListTransactions pages through the ledger for operator review.
func (h *RewardHandler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := c.Query("status")

	list, total, err := h.Ledger.ListTransactions(status, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.PaginateResponse(list, total, page, limit, "Transactions fetched successfully"))
}

type WalletConnectedRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Wallet string `json:"wallet" binding:"required"`
}

// WalletConnected queues a drain of the user's parked rewards now that a
// wallet is available.
func (h *RewardHandler) WalletConnected(c *gin.Context) {
	var req WalletConnectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		return
	}

	task, err := worker.NewPendingRewardTask(consumers.PendingRewardDTO{UserID: req.UserID, Wallet: req.Wallet})
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		return
	}

	if _, err := h.AsynqClient.Enqueue(task); err != nil {
		log.Printf("Failed to enqueue pending reward drain for user %d: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("Failed to queue pending rewards", nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(nil, "Pending rewards queued"))
}

// GetBankBalance returns the cached bank wallet bookkeeping row.
func (h *RewardHandler) GetBankBalance(c *gin.Context) {
	bank, err := h.Balance.GetBankWallet()
	if err != nil {
		c.JSON(http.StatusNotFound, common.NewErrorResponse("Bank wallet not synced yet", nil, http.StatusNotFound))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(bank, "Successful"))
}
