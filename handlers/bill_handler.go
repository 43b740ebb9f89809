package handlers

import (
	"errors"
	"strconv"

	"github.com/facturaqr/facturas-backend/services"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type BillHandler struct {
	BillService *services.BillService
	Extractor   *services.BillExtractor
}

func NewBillHandler(billService *services.BillService, extractor *services.BillExtractor) *BillHandler {
	return &BillHandler{
		BillService: billService,
		Extractor:   extractor,
	}
}

// ScrapeBill accepts a QR submission: validates the URL, extracts and
// enriches the record, and stores it.
func (h *BillHandler) ScrapeBill(c *fiber.Ctx) error {
	type Request struct {
		URL     string `json:"url"`
		Name    string `json:"name"`
		Surname string `json:"surname"`
		Email   string `json:"email"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "URL no proporcionada",
		})
	}

	bill, err := h.Extractor.Extract(c.Context(), req.URL)
	if err != nil {
		return respondWithError(c, err)
	}

	bill.Name = req.Name
	bill.Surname = req.Surname
	bill.Email = req.Email

	id, err := h.BillService.CreateBill(c.Context(), bill)
	if err != nil {
		if shared.IsDuplicateError(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success":     false,
				"duplicate":   true,
				"existing_id": id,
				"error":       "Esta factura ya fue registrada anteriormente",
			})
		}
		return respondWithError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    bill,
	})
}

// CheckQR reports whether a URL has already been recorded
func (h *BillHandler) CheckQR(c *fiber.Ctx) error {
	type Request struct {
		URL string `json:"url"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "URL no proporcionada",
		})
	}

	exists, id, err := h.BillService.ExistsByURL(c.Context(), req.URL)
	if err != nil {
		return respondWithError(c, err)
	}

	response := fiber.Map{
		"success": true,
		"exists":  exists,
	}
	if exists {
		response["id"] = id
	}
	return c.JSON(response)
}

// GetBills lists records with search and pagination
func (h *BillHandler) GetBills(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	search := c.Query("search", "")

	bills, total, err := h.BillService.ListBills(c.Context(), search, page, limit)
	if err != nil {
		return respondWithError(c, err)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	pages := (total + limit - 1) / limit

	return c.JSON(fiber.Map{
		"success": true,
		"data":    bills,
		"total":   total,
		"page":    page,
		"pages":   pages,
	})
}

// DeleteBill removes one record; unknown ids are a no-op success
func (h *BillHandler) DeleteBill(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Identificador no válido",
		})
	}

	if err := h.BillService.DeleteBill(c.Context(), id); err != nil {
		return respondWithError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// ClearBills wipes the table; requires the explicit confirmation token
func (h *BillHandler) ClearBills(c *fiber.Ctx) error {
	type Request struct {
		Confirm string `json:"confirm"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	deleted, err := h.BillService.ClearBills(c.Context(), req.Confirm)
	if err != nil {
		return respondWithError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"deleted": deleted,
	})
}

// respondWithError maps service error categories to HTTP responses. Anything
// unclassified becomes a generic internal error with no details exposed.
func respondWithError(c *fiber.Ctx, err error) error {
	switch {
	case shared.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   errorMessage(err),
		})
	case shared.IsDuplicateError(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":   false,
			"duplicate": true,
			"error":     errorMessage(err),
		})
	case shared.IsAuthenticationError(err):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "No autenticado",
		})
	default:
		var serviceErr *shared.ServiceError
		if errors.As(err, &serviceErr) {
			serviceErr.LogError()
		} else {
			logrus.WithError(err).Error("Unhandled service error")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Error interno del servidor",
		})
	}
}

// errorMessage extracts the user-facing message of a ServiceError
func errorMessage(err error) string {
	if serviceErr, ok := err.(*shared.ServiceError); ok {
		return serviceErr.Message
	}
	return err.Error()
}
