package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/http/dto"
	"github.com/gurssagar/finalicp-sub006/internal/middleware"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "", "invalid request")
	}

	caller := middleware.GetPrincipal(c)
	client := caller
	if req.Client != "" {
		client = models.Principal(req.Client)
	}

	e, err := h.escrowService.Create(c.Context(), caller, services.CreateEscrowInput{
		ProjectID:      req.ProjectID,
		Client:         client,
		Freelancer:     models.Principal(req.Freelancer),
		ExpectedAmount: req.ExpectedAmount,
		ReleaseAt:      req.ReleaseAt,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreateEscrowResponse{
		EscrowID:       e.ID,
		DepositAccount: e.DepositAccount,
		Escrow:         dto.NewEscrowResponse(e),
	}})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	e, err := h.escrowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(e)})
}

func (h *EscrowHandler) GetDepositAccount(c *fiber.Ctx) error {
	acc, err := h.escrowService.GetDepositAccount(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: acc})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	caller := middleware.GetPrincipal(c)
	filter := repositories.EscrowFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		status := models.EscrowStatus(v)
		if !status.Valid() {
			return badRequest(c, "status", "unknown status")
		}
		filter.Status = &status
	}
	if v := c.Query("project_id"); v != "" {
		filter.ProjectID = &v
	}

	switch c.Query("role") {
	case "client":
		filter.Client = &caller
	case "freelancer":
		filter.Freelancer = &caller
	case "", "any":
		filter.Party = &caller
	default:
		return badRequest(c, "role", "role must be client, freelancer or any")
	}

	escrows, err := h.escrowService.List(c.Context(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}

	out := make([]dto.EscrowResponse, 0, len(escrows))
	for i := range escrows {
		out = append(out, dto.NewEscrowResponse(&escrows[i]))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EscrowHandler) RefreshFunding(c *fiber.Ctx) error {
	res, err := h.escrowService.RefreshFunding(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RefreshResponse{
		Funded:  res.Funded,
		Balance: res.Balance,
		Escrow:  dto.NewEscrowResponse(res.Escrow),
	}})
}

func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	e, err := h.escrowService.Release(c.Context(), middleware.GetPrincipal(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SettlementResponse{
		BlockIndex: e.SettlementBlockIndex,
		Escrow:     dto.NewEscrowResponse(e),
	}})
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	e, err := h.escrowService.Refund(c.Context(), middleware.GetPrincipal(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SettlementResponse{
		BlockIndex: e.SettlementBlockIndex,
		Escrow:     dto.NewEscrowResponse(e),
	}})
}

func (h *EscrowHandler) GetEvents(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	logs, err := h.escrowService.Events(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
