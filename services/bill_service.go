package services

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/facturaqr/facturas-backend/database"
	"github.com/facturaqr/facturas-backend/models"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/sirupsen/logrus"
)

// ClearConfirmationToken is the literal a caller must supply to authorize the
// irreversible bulk delete. The DELETE verb alone is not enough.
const ClearConfirmationToken = "ELIMINAR TODO"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// BillService persists bill submissions in the local store
type BillService struct {
	DB       *sql.DB
	location *time.Location
}

// NewBillService creates a bill service capturing timestamps in the given timezone
func NewBillService(db *sql.DB, location *time.Location) *BillService {
	if location == nil {
		location = time.UTC
	}
	return &BillService{DB: db, location: location}
}

// CreateBill validates the record, runs the duplicate guard and inserts.
// The unique index on url is the backstop for the check-then-insert race:
// a constraint violation from a concurrent identical submission is reported
// as the same duplicate outcome.
func (s *BillService) CreateBill(ctx context.Context, bill *models.Bill) (int64, error) {
	if err := s.validateSubmitter(bill); err != nil {
		return 0, err
	}

	if strings.TrimSpace(bill.URL) == "" {
		return 0, shared.NewServiceError(
			shared.ErrorCategoryValidation,
			"MISSING_URL",
			"URL no proporcionada",
			"CreateBill",
			nil,
		)
	}

	exists, existingID, err := s.ExistsByURL(ctx, bill.URL)
	if err != nil {
		return 0, err
	}
	if exists {
		return existingID, duplicateError()
	}

	bill.CapturedAt = time.Now().In(s.location)

	result, err := s.DB.ExecContext(ctx, `
		INSERT INTO bills (
			url, name, surname, email, code, postal_code, billing_period,
			tariff_type, price, green_energy, permanence, price_review,
			services, provider, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.URL, bill.Name, bill.Surname, bill.Email, bill.Code,
		bill.PostalCode, bill.BillingPeriod, bill.TariffType, bill.Price,
		bill.GreenEnergy, bill.Permanence, bill.PriceReview, bill.Services,
		bill.Provider, bill.CapturedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the race against a concurrent identical submission
			_, raceID, lookupErr := s.ExistsByURL(ctx, bill.URL)
			if lookupErr != nil {
				raceID = 0
			}
			return raceID, duplicateError()
		}
		return 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "INSERT_FAILED", "CreateBill")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "INSERT_FAILED", "CreateBill")
	}
	bill.ID = id

	logrus.WithFields(logrus.Fields{
		"bill_id": id,
		"code":    bill.Code,
	}).Info("Bill record created")

	return id, nil
}

// ExistsByURL is the duplicate guard: an exact-match lookup of the source URL
func (s *BillService) ExistsByURL(ctx context.Context, url string) (bool, int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, "SELECT id FROM bills WHERE url = ?", url).Scan(&id)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "LOOKUP_FAILED", "ExistsByURL")
	}
	return true, id, nil
}

// ListBills returns one page of records, newest capture first, with an
// optional case-insensitive substring filter OR-matched across name, surname,
// email and code. The returned total reflects the filtered count.
func (s *BillService) ListBills(ctx context.Context, search string, page, limit int) ([]models.Bill, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	whereClause := ""
	var args []interface{}
	search = strings.TrimSpace(search)
	if search != "" {
		whereClause = `WHERE lower(name) LIKE ? OR lower(surname) LIKE ? OR lower(email) LIKE ? OR lower(code) LIKE ?`
		needle := "%" + strings.ToLower(search) + "%"
		args = append(args, needle, needle, needle, needle)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM bills %s", whereClause)
	if err := s.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "COUNT_FAILED", "ListBills")
	}

	listQuery := fmt.Sprintf(`
		SELECT id, url, name, surname, email, code, postal_code, billing_period,
			tariff_type, price, green_energy, permanence, price_review,
			services, provider, captured_at
		FROM bills %s
		ORDER BY captured_at DESC, id DESC
		LIMIT ? OFFSET ?`, whereClause)

	listArgs := append(args, limit, (page-1)*limit)
	rows, err := s.DB.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "QUERY_FAILED", "ListBills")
	}
	defer rows.Close()

	bills := make([]models.Bill, 0)
	for rows.Next() {
		var bill models.Bill
		if err := rows.Scan(
			&bill.ID, &bill.URL, &bill.Name, &bill.Surname, &bill.Email,
			&bill.Code, &bill.PostalCode, &bill.BillingPeriod, &bill.TariffType,
			&bill.Price, &bill.GreenEnergy, &bill.Permanence, &bill.PriceReview,
			&bill.Services, &bill.Provider, &bill.CapturedAt,
		); err != nil {
			return nil, 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "SCAN_FAILED", "ListBills")
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "QUERY_FAILED", "ListBills")
	}

	return bills, total, nil
}

// AllBills returns every record in export order (newest capture first)
func (s *BillService) AllBills(ctx context.Context) ([]models.Bill, error) {
	bills, _, err := s.ListBills(ctx, "", 1, maxPageSize)
	if err != nil {
		return nil, err
	}
	if len(bills) < maxPageSize {
		return bills, nil
	}

	// More than one page; keep appending until a short page
	page := 2
	for {
		next, _, err := s.ListBills(ctx, "", page, maxPageSize)
		if err != nil {
			return nil, err
		}
		bills = append(bills, next...)
		if len(next) < maxPageSize {
			return bills, nil
		}
		page++
	}
}

// DeleteBill removes one record. Deleting a nonexistent id is a no-op
// success, keeping the operation idempotent.
func (s *BillService) DeleteBill(ctx context.Context, id int64) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM bills WHERE id = ?", id)
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryDatabase, "DELETE_FAILED", "DeleteBill")
	}

	affected, _ := result.RowsAffected()
	logrus.WithFields(logrus.Fields{
		"bill_id":       id,
		"rows_affected": affected,
	}).Info("Bill record deleted")

	return nil
}

// ClearBills wipes the whole table. The caller must supply the exact
// confirmation token; anything else leaves the table untouched.
func (s *BillService) ClearBills(ctx context.Context, confirmation string) (int64, error) {
	if confirmation != ClearConfirmationToken {
		return 0, shared.NewServiceError(
			shared.ErrorCategoryValidation,
			"MISSING_CONFIRMATION",
			"Confirmación requerida para eliminar todos los registros",
			"ClearBills",
			nil,
		)
	}

	result, err := s.DB.ExecContext(ctx, "DELETE FROM bills")
	if err != nil {
		return 0, shared.WrapError(err, shared.ErrorCategoryDatabase, "CLEAR_FAILED", "ClearBills")
	}

	deleted, _ := result.RowsAffected()
	logrus.WithField("deleted", deleted).Warn("All bill records cleared")

	return deleted, nil
}

// validateSubmitter enforces the optional contact-field constraints before storage
func (s *BillService) validateSubmitter(bill *models.Bill) error {
	bill.Name = strings.TrimSpace(bill.Name)
	bill.Surname = strings.TrimSpace(bill.Surname)
	bill.Email = strings.TrimSpace(bill.Email)

	if len([]rune(bill.Name)) > models.MaxNameLength {
		return validationError("NAME_TOO_LONG", "El nombre supera la longitud máxima")
	}
	if len([]rune(bill.Surname)) > models.MaxSurnameLength {
		return validationError("SURNAME_TOO_LONG", "Los apellidos superan la longitud máxima")
	}
	if bill.Email != "" {
		if len(bill.Email) > models.MaxEmailLength {
			return validationError("EMAIL_TOO_LONG", "El email supera la longitud máxima")
		}
		if !emailPattern.MatchString(bill.Email) {
			return validationError("INVALID_EMAIL", "El formato del email no es válido")
		}
	}
	return nil
}

func validationError(code, message string) *shared.ServiceError {
	return shared.NewServiceError(shared.ErrorCategoryValidation, code, message, "CreateBill", nil)
}

func duplicateError() *shared.ServiceError {
	return shared.NewServiceError(
		shared.ErrorCategoryDuplicate,
		"URL_ALREADY_SUBMITTED",
		"Esta factura ya fue registrada anteriormente",
		"CreateBill",
		nil,
	)
}
