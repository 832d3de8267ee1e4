package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/http/dto"
	"github.com/gurssagar/finalicp-sub006/internal/middleware"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"go.uber.org/zap"
)

type AdminHandler struct {
	adminService *services.AdminService
	log          *zap.Logger
}

func NewAdminHandler(adminService *services.AdminService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{adminService: adminService, log: log}
}

func (h *AdminHandler) GetTreasury(c *fiber.Ctx) error {
	cur, err := h.adminService.Current(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PrincipalResponse{Principal: &cur.Treasury}})
}

func (h *AdminHandler) SetTreasury(c *fiber.Ctx) error {
	var req dto.SetPrincipalRequest
	if err := c.BodyParser(&req); err != nil || req.Principal == nil {
		return badRequest(c, "principal", "principal is required")
	}
	p, err := models.ParsePrincipal(*req.Principal)
	if err != nil {
		return badRequest(c, "principal", err.Error())
	}

	if err := h.adminService.SetTreasury(c.Context(), middleware.GetPrincipal(c), p); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PrincipalResponse{Principal: &p}})
}

func (h *AdminHandler) GetRelayer(c *fiber.Ctx) error {
	cur, err := h.adminService.Current(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PrincipalResponse{Principal: cur.Relayer}})
}

func (h *AdminHandler) SetRelayer(c *fiber.Ctx) error {
	var req dto.SetPrincipalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "", "invalid request")
	}

	var relayer *models.Principal
	if req.Principal != nil {
		p, err := models.ParsePrincipal(*req.Principal)
		if err != nil {
			return badRequest(c, "principal", err.Error())
		}
		relayer = &p
	}

	if err := h.adminService.SetRelayer(c.Context(), middleware.GetPrincipal(c), relayer); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PrincipalResponse{Principal: relayer}})
}
