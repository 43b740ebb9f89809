package handlers

import (
	"strings"
	"time"

	"github.com/facturaqr/facturas-backend/services"
	"github.com/gofiber/fiber/v2"
)

const sessionCookieName = "session_token"

type AuthHandler struct {
	SessionService *services.SessionService
}

func NewAuthHandler(sessionService *services.SessionService) *AuthHandler {
	return &AuthHandler{SessionService: sessionService}
}

// Login validates the shared admin secret and issues a session token. The
// token is returned in the body and set as an HTTPOnly cookie.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	type Request struct {
		Password string `json:"password"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	token, err := h.SessionService.Login(req.Password)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Credenciales no válidas",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HTTPOnly: true,
		SameSite: "Lax",
		Expires:  time.Now().Add(24 * time.Hour),
	})

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
	})
}

// Logout invalidates the caller's session
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := sessionToken(c)
	if token != "" {
		h.SessionService.Logout(token)
	}

	c.Cookie(&fiber.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		HTTPOnly: true,
		Expires:  time.Now().Add(-time.Hour),
	})

	return c.JSON(fiber.Map{"success": true})
}

// Check reports whether the caller holds a live session
func (h *AuthHandler) Check(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":       true,
		"authenticated": h.SessionService.Validate(sessionToken(c)),
	})
}

// RequireSession gates administrative routes. Absence or invalidity of the
// token yields a uniform failure, never partial data.
func (h *AuthHandler) RequireSession(c *fiber.Ctx) error {
	if !h.SessionService.Validate(sessionToken(c)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "No autenticado",
		})
	}
	return c.Next()
}

// sessionToken reads the session token from the cookie or a bearer header
func sessionToken(c *fiber.Ctx) string {
	if token := c.Cookies(sessionCookieName); token != "" {
		return token
	}
	authorization := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	}
	return ""
}
