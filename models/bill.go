package models

import (
	"strings"
	"time"
)

// Sentinel values used when a field cannot be determined. Fields are always
// populated with one of these instead of being left empty, so downstream
// exports never have to deal with missing keys.
const (
	NotAvailable = "N/A"
	PriceUnknown = 0.0
)

// Field length caps enforced before storage
const (
	MaxNameLength     = 100
	MaxSurnameLength  = 100
	MaxEmailLength    = 255
	MaxProviderLength = 100
)

// Bill represents one accepted QR submission of a CNMC bill-comparison URL.
type Bill struct {
	ID int64 `json:"id"`

	// Submitter contact fields, optional
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`

	// Source URL, unique across all records
	URL string `json:"url"`

	// Code extracted from the cp query parameter
	Code string `json:"code"`

	// Enrichment fields, best-effort, sentinel-backed
	PostalCode    string  `json:"postal_code"`
	BillingPeriod string  `json:"billing_period"`
	TariffType    string  `json:"tariff_type"`
	Price         float64 `json:"price"`
	GreenEnergy   bool    `json:"green_energy"`
	Permanence    string  `json:"permanence"`
	PriceReview   string  `json:"price_review"`
	Services      string  `json:"services"`
	Provider      string  `json:"provider"`

	// Set once at insertion time in the configured timezone, immutable
	CapturedAt time.Time `json:"captured_at"`
}

// NewBill returns a record with every enrichment field set to its sentinel.
// The extractor overwrites whatever it manages to determine.
func NewBill(url string) *Bill {
	return &Bill{
		URL:           url,
		Code:          NotAvailable,
		PostalCode:    NotAvailable,
		BillingPeriod: NotAvailable,
		TariffType:    NotAvailable,
		Price:         PriceUnknown,
		GreenEnergy:   false,
		Permanence:    NotAvailable,
		PriceReview:   NotAvailable,
		Services:      NotAvailable,
		Provider:      NotAvailable,
	}
}

// TruncateField caps a free-text value at maxLength runes after trimming
func TruncateField(value string, maxLength int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) > maxLength {
		return string(runes[:maxLength])
	}
	return value
}
