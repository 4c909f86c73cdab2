package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/rest/middleware"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	advisors usecase.IAdvisorUsecase
	issuer   *usecase.TokenIssuer
}

func NewAuthHandler(advisors usecase.IAdvisorUsecase, issuer *usecase.TokenIssuer) *AuthHandler {
	return &AuthHandler{advisors: advisors, issuer: issuer}
}

// Register monta el login público y las rutas de sesión autenticadas.
func (h *AuthHandler) Register(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/login", h.Login)

	protected := auth.Group("/", middleware.RequireAuth(h.issuer))
	protected.Post("/logout", h.Logout)
	protected.Get("/me", h.Me)
	protected.Post("/heartbeat", h.Heartbeat)
	protected.Post("/status", h.SetStatus)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req validations.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateLogin(req)

	result, err := h.advisors.Login(c.UserContext(), req.Username, req.Password)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Login success",
		Results: result,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	err := h.advisors.Logout(c.UserContext(), middleware.AdvisorID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Logout success",
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	adv, err := h.advisors.Get(c.UserContext(), middleware.AdvisorID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Advisor profile",
		Results: adv,
	})
}

func (h *AuthHandler) Heartbeat(c *fiber.Ctx) error {
	h.advisors.Heartbeat(c.UserContext(), middleware.AdvisorID(c))
	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Heartbeat registered"})
}

func (h *AuthHandler) SetStatus(c *fiber.Ctx) error {
	var req struct {
		StatusID        string `json:"status_id"`
		ManuallyOffline bool   `json:"manually_offline"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	err := h.advisors.SetStatus(c.UserContext(), middleware.AdvisorID(c), req.StatusID, req.ManuallyOffline)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Status updated"})
}
