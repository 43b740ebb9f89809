package services

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facturaqr/facturas-backend/config"
	"github.com/facturaqr/facturas-backend/models"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/sirupsen/logrus"
)

// classificationRule pairs a lower-case phrase to look for in the page text
// with the label stored when it matches. Rules are evaluated in order and the
// first match wins, so new site layouts are accommodated by adding rules
// without touching control flow.
type classificationRule struct {
	Pattern string
	Label   string
}

var greenEnergyRules = []classificationRule{
	{"energía 100% renovable", "Sí"},
	{"100% renovable", "Sí"},
	{"100% renovables", "Sí"},
	{"origen 100% renovable", "Sí"},
}

var permanenceRules = []classificationRule{
	{"sin permanencia", "Sin permanencia"},
	{"sin compromiso de permanencia", "Sin permanencia"},
	{"con permanencia", "Con permanencia"},
	{"compromiso de permanencia", "Con permanencia"},
}

var priceReviewRules = []classificationRule{
	{"revisión anual", "Revisión anual"},
	{"revision anual", "Revisión anual"},
	{"revisión mensual", "Revisión mensual"},
	{"revision mensual", "Revisión mensual"},
	{"sin revisión", "Sin revisión"},
	{"sin revision", "Sin revisión"},
}

var additionalServicesRules = []classificationRule{
	{"con servicios adicionales", "Con servicios adicionales"},
	{"servicios adicionales incluidos", "Con servicios adicionales"},
	{"sin servicios adicionales", "Sin servicios adicionales"},
}

var tariffTypeRules = []classificationRule{
	{"tarifa con 1 precio fijo", "Tarifa con 1 precio fijo"},
	{"un precio fijo", "Tarifa con 1 precio fijo"},
	{"tarifa con 2 precios fijos", "Tarifa con 2 precios fijos"},
	{"2 precios fijos", "Tarifa con 2 precios fijos"},
	{"tarifa con 3 precios fijos", "Tarifa con 3 precios fijos"},
	{"3 precios fijos", "Tarifa con 3 precios fijos"},
	{"indexada al mercado", "Tarifa indexada al mercado"},
	{"tarifa indexada", "Tarifa indexada al mercado"},
	{"precio variable de mercado", "Tarifa de mercado variable"},
	{"mercado variable", "Tarifa de mercado variable"},
}

var (
	pageTextPricePattern = regexp.MustCompile(`(\d+[.,]\d{2})\s*€`)
	postalCodePattern    = regexp.MustCompile(`\b\d{5}\b`)
)

// ExtractionMetrics tracks success rates of the best-effort page enrichment.
// Counters are atomic: they are bumped from concurrent request handlers while
// the periodic summary reads them from a background goroutine.
type ExtractionMetrics struct {
	FetchAttempts   atomic.Int64
	FetchSuccess    atomic.Int64
	HeadingSuccess  atomic.Int64
	ClassifiedPages atomic.Int64
}

// LogSummary logs a summary of enrichment metrics
func (m *ExtractionMetrics) LogSummary() {
	fetchAttempts := m.FetchAttempts.Load()
	fetchSuccess := m.FetchSuccess.Load()

	fetchSuccessRate := 0.0
	if fetchAttempts > 0 {
		fetchSuccessRate = float64(fetchSuccess) / float64(fetchAttempts) * 100
	}

	logrus.WithFields(logrus.Fields{
		"fetch_attempts":     fetchAttempts,
		"fetch_success":      fetchSuccess,
		"fetch_success_rate": fmt.Sprintf("%.1f%%", fetchSuccessRate),
		"heading_success":    m.HeadingSuccess.Load(),
		"classified_pages":   m.ClassifiedPages.Load(),
	}).Info("Page enrichment metrics summary")
}

// BillExtractor validates submitted CNMC comparison URLs and mines structured
// fields from the query string and, best-effort, from the page itself.
type BillExtractor struct {
	configuration *config.ExtractorConfiguration
	fetcher       PageFetcher
	metrics       *ExtractionMetrics
}

// NewBillExtractor creates an extractor using the given fetch strategy
func NewBillExtractor(cfg *config.ExtractorConfiguration, fetcher PageFetcher) *BillExtractor {
	return &BillExtractor{
		configuration: cfg,
		fetcher:       fetcher,
		metrics:       &ExtractionMetrics{},
	}
}

// Metrics exposes the enrichment counters, mainly for the periodic summary log
func (e *BillExtractor) Metrics() *ExtractionMetrics {
	return e.metrics
}

// Extract validates the submitted URL and returns a fully populated record.
// Structural validation (expected host, cp parameter present) is a hard
// precondition; every other field degrades independently to its sentinel.
// Page enrichment failures never fail the extraction.
func (e *BillExtractor) Extract(ctx context.Context, rawURL string) (*models.Bill, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsedURL.Host == "" {
		return nil, shared.NewServiceError(
			shared.ErrorCategoryValidation,
			"INVALID_URL",
			"La URL no es válida",
			"Extract",
			err,
		)
	}

	if !strings.Contains(strings.ToLower(parsedURL.Host), e.configuration.HostMarker) {
		return nil, shared.NewServiceError(
			shared.ErrorCategoryValidation,
			"UNEXPECTED_DOMAIN",
			"La URL no pertenece al comparador de la CNMC",
			"Extract",
			nil,
		)
	}

	queryParams := parsedURL.Query()
	code := strings.TrimSpace(queryParams.Get("cp"))
	if code == "" {
		return nil, shared.NewServiceError(
			shared.ErrorCategoryValidation,
			"MISSING_CP_PARAMETER",
			"La URL no contiene el parámetro cp",
			"Extract",
			nil,
		)
	}

	bill := models.NewBill(parsedURL.String())
	bill.Code = code
	if postalCodePattern.MatchString(code) && len(code) == 5 {
		bill.PostalCode = code
	}
	bill.Price = parsePrice(queryParams.Get("imp"))
	bill.BillingPeriod = formatBillingPeriod(queryParams.Get("iniF"), queryParams.Get("finF"))

	e.enrichFromPage(ctx, bill)

	return bill, nil
}

// parsePrice converts the imp query parameter; absent, malformed, negative or
// non-finite values fall back to the zero sentinel. ParseFloat accepts "NaN"
// and "Inf" spellings, and neither is caught by a plain sign check.
func parsePrice(rawPrice string) float64 {
	rawPrice = strings.TrimSpace(rawPrice)
	if rawPrice == "" {
		return models.PriceUnknown
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil || !isUsablePrice(price) {
		return models.PriceUnknown
	}
	return price
}

// isUsablePrice reports whether a parsed price can be stored: non-negative
// and finite, so it survives both JSON serialization and the NOT NULL column.
func isUsablePrice(price float64) bool {
	return price >= 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// formatBillingPeriod renders iniF/finF as DD/MM/YYYY - DD/MM/YYYY. A partial
// period is never constructed: unless both dates parse, the whole period is
// the sentinel.
func formatBillingPeriod(rawStart, rawEnd string) string {
	start, startErr := time.Parse("2006-01-02", strings.TrimSpace(rawStart))
	end, endErr := time.Parse("2006-01-02", strings.TrimSpace(rawEnd))
	if startErr != nil || endErr != nil {
		return models.NotAvailable
	}
	return fmt.Sprintf("%s - %s", start.Format("02/01/2006"), end.Format("02/01/2006"))
}

// enrichFromPage fetches the page and runs the keyword classifiers over its
// lower-cased visible text. Any failure is absorbed: the record keeps its
// sentinels and the submission continues.
func (e *BillExtractor) enrichFromPage(ctx context.Context, bill *models.Bill) {
	if e.fetcher == nil {
		return
	}

	e.metrics.FetchAttempts.Add(1)

	content, err := e.fetcher.Fetch(ctx, bill.URL)
	if err != nil {
		enrichmentErr := shared.WrapError(err, shared.ErrorCategoryEnrichment, "PAGE_FETCH_FAILED", "enrichFromPage")
		logrus.WithFields(logrus.Fields{
			"url":   bill.URL,
			"error": enrichmentErr,
		}).Warn("Page enrichment skipped, keeping sentinel values")
		return
	}

	e.metrics.FetchSuccess.Add(1)

	pageText := strings.ToLower(content.Text)

	if _, matched := classify(pageText, greenEnergyRules); matched {
		bill.GreenEnergy = true
	}
	if label, matched := classify(pageText, permanenceRules); matched {
		bill.Permanence = label
	}
	if label, matched := classify(pageText, priceReviewRules); matched {
		bill.PriceReview = label
	}
	if label, matched := classify(pageText, additionalServicesRules); matched {
		bill.Services = label
	}
	if label, matched := classify(pageText, tariffTypeRules); matched {
		bill.TariffType = label
	}

	if bill.Price == models.PriceUnknown {
		if match := pageTextPricePattern.FindStringSubmatch(content.Text); match != nil {
			if price, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64); err == nil && isUsablePrice(price) {
				bill.Price = price
			}
		}
	}

	if bill.PostalCode == models.NotAvailable {
		if match := postalCodePattern.FindString(content.Text); match != "" {
			bill.PostalCode = match
		}
	}

	if heading := strings.TrimSpace(content.Heading); heading != "" {
		bill.Provider = models.TruncateField(heading, models.MaxProviderLength)
		e.metrics.HeadingSuccess.Add(1)
	}

	e.metrics.ClassifiedPages.Add(1)
}

// classify returns the label of the first rule whose pattern occurs in the
// lower-cased page text.
func classify(pageText string, rules []classificationRule) (string, bool) {
	for _, rule := range rules {
		if strings.Contains(pageText, rule.Pattern) {
			return rule.Label, true
		}
	}
	return "", false
}
