package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/http/dto"
	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"go.uber.org/zap"
)

// DevLedgerHandler simulates payer deposits on the in-memory ledger.
// It is only mounted when LEDGER_DRIVER=memory.
type DevLedgerHandler struct {
	ledger        *ledger.MemoryLedger
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewDevLedgerHandler(l *ledger.MemoryLedger, escrowService *services.EscrowService, log *zap.Logger) *DevLedgerHandler {
	return &DevLedgerHandler{ledger: l, escrowService: escrowService, log: log}
}

func (h *DevLedgerHandler) Deposit(c *fiber.Ctx) error {
	var req dto.DevDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "", "invalid request")
	}
	if req.Amount == 0 {
		return badRequest(c, "amount", "amount must be positive")
	}

	acc, err := h.escrowService.GetDepositAccount(c.Context(), req.EscrowID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	idx := h.ledger.Deposit(acc, req.Amount)
	h.log.Info("dev deposit",
		zap.String("escrow_id", req.EscrowID),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("block_index", idx),
	)
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.DevDepositResponse{BlockIndex: idx, Account: acc}})
}
