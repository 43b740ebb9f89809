package handlers

import (
	"time"

	"github.com/facturaqr/facturas-backend/services"
	"github.com/gofiber/fiber/v2"
)

type ExportHandler struct {
	BillService   *services.BillService
	ExportService *services.ExportService
	Location      *time.Location
}

func NewExportHandler(billService *services.BillService, exportService *services.ExportService, location *time.Location) *ExportHandler {
	if location == nil {
		location = time.UTC
	}
	return &ExportHandler{
		BillService:   billService,
		ExportService: exportService,
		Location:      location,
	}
}

// Download streams the record set in the requested format with a
// timestamped attachment filename.
func (h *ExportHandler) Download(c *fiber.Ctx) error {
	format := c.Params("format")

	bills, err := h.BillService.AllBills(c.Context())
	if err != nil {
		return respondWithError(c, err)
	}

	var (
		payload     []byte
		contentType string
		extension   string
	)

	switch format {
	case "excel":
		payload, err = h.ExportService.RenderExcel(bills)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		extension = "xlsx"
	case "csv":
		payload, err = h.ExportService.RenderCSV(bills)
		contentType = "text/csv; charset=utf-8"
		extension = "csv"
	case "json":
		payload, err = h.ExportService.RenderJSON(bills)
		contentType = "application/json; charset=utf-8"
		extension = "json"
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Formato de descarga no soportado",
		})
	}
	if err != nil {
		return respondWithError(c, err)
	}

	timestamp := time.Now().In(h.Location).Format("20060102-150405")
	fileName := h.ExportService.FileName(extension, timestamp)

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fileName+`"`)
	return c.Send(payload)
}
