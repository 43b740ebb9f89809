package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/facturaqr/facturas-backend/models"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// exportHeaders is the fixed column order shared by every export format
var exportHeaders = []string{"ID", "Nombre", "Apellidos", "Email", "Código", "Fecha Captura", "URL"}

const (
	exportSheetName   = "Facturas"
	exportDatePattern = "02/01/2006 15:04"
	emptyPlaceholder  = "-"
)

// ExportService renders the current record set for download. Records appear
// exactly once, in the store's sort order, with missing optional fields
// rendered as a dash rather than empty.
type ExportService struct{}

// NewExportService creates an export service
func NewExportService() *ExportService {
	return &ExportService{}
}

// exportRow renders one record into the fixed column order
func exportRow(bill models.Bill) []string {
	return []string{
		strconv.FormatInt(bill.ID, 10),
		orDash(bill.Name),
		orDash(bill.Surname),
		orDash(bill.Email),
		orDash(bill.Code),
		bill.CapturedAt.Format(exportDatePattern),
		bill.URL,
	}
}

func orDash(value string) string {
	if value == "" || value == models.NotAvailable {
		return emptyPlaceholder
	}
	return value
}

// RenderExcel produces an xlsx workbook with a styled header row
func (s *ExportService) RenderExcel(bills []models.Bill) ([]byte, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	workbook.SetSheetName(workbook.GetSheetName(0), exportSheetName)

	headerStyle, err := workbook.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2180A3"}, Pattern: 1},
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "EXCEL_STYLE_FAILED", "RenderExcel")
	}

	for columnIndex, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(columnIndex+1, 1)
		workbook.SetCellValue(exportSheetName, cell, header)
		workbook.SetCellStyle(exportSheetName, cell, cell, headerStyle)

		columnName, _ := excelize.ColumnNumberToName(columnIndex + 1)
		workbook.SetColWidth(exportSheetName, columnName, columnName, 15)
	}

	for rowIndex, bill := range bills {
		for columnIndex, value := range exportRow(bill) {
			cell, _ := excelize.CoordinatesToCellName(columnIndex+1, rowIndex+2)
			if columnIndex == 0 {
				workbook.SetCellValue(exportSheetName, cell, bill.ID)
				continue
			}
			workbook.SetCellValue(exportSheetName, cell, value)
		}
	}

	buffer, err := workbook.WriteToBuffer()
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "EXCEL_WRITE_FAILED", "RenderExcel")
	}

	logrus.WithField("records", len(bills)).Debug("Rendered Excel export")
	return buffer.Bytes(), nil
}

// RenderCSV produces UTF-8 CSV with a byte-order mark so spreadsheet
// applications display accented characters correctly.
func (s *ExportService) RenderCSV(bills []models.Bill) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteString("\uFEFF")

	writer := csv.NewWriter(&buffer)
	if err := writer.Write(exportHeaders); err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "CSV_WRITE_FAILED", "RenderCSV")
	}
	for _, bill := range bills {
		if err := writer.Write(exportRow(bill)); err != nil {
			return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "CSV_WRITE_FAILED", "RenderCSV")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "CSV_WRITE_FAILED", "RenderCSV")
	}

	logrus.WithField("records", len(bills)).Debug("Rendered CSV export")
	return buffer.Bytes(), nil
}

// RenderJSON produces an indented JSON array with the same seven fields as
// the tabular formats.
func (s *ExportService) RenderJSON(bills []models.Bill) ([]byte, error) {
	type exportEntry struct {
		ID         int64  `json:"id"`
		Name       string `json:"nombre"`
		Surname    string `json:"apellidos"`
		Email      string `json:"email"`
		Code       string `json:"codigo"`
		CapturedAt string `json:"fecha_captura"`
		URL        string `json:"url"`
	}

	entries := make([]exportEntry, 0, len(bills))
	for _, bill := range bills {
		row := exportRow(bill)
		entries = append(entries, exportEntry{
			ID:         bill.ID,
			Name:       row[1],
			Surname:    row[2],
			Email:      row[3],
			Code:       row[4],
			CapturedAt: row[5],
			URL:        row[6],
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryProcessing, "JSON_WRITE_FAILED", "RenderJSON")
	}

	logrus.WithField("records", len(bills)).Debug("Rendered JSON export")
	return data, nil
}

// FileName builds the download filename for a format extension using the
// capture timestamp pattern of the original exports.
func (s *ExportService) FileName(extension string, timestamp string) string {
	return fmt.Sprintf("facturas-energia-%s.%s", timestamp, extension)
}
