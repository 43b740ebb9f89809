package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/facturaqr/facturas-backend/config"
	"github.com/facturaqr/facturas-backend/models"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// stubFetcher returns canned page content, or an error, without any network
type stubFetcher struct {
	content *PageContent
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, pageURL string) (*PageContent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.content, nil
}

func newTestExtractor(fetcher PageFetcher) *BillExtractor {
	return NewBillExtractor(config.DefaultExtractorConfiguration(), fetcher)
}

func TestExtractRejectsStructurallyInvalidURLs(t *testing.T) {
	extractor := newTestExtractor(nil)

	cases := []struct {
		name string
		url  string
		code string
	}{
		{"empty url", "", "INVALID_URL"},
		{"not a url", "::::", "INVALID_URL"},
		{"no host", "/relative/path?cp=ABC", "INVALID_URL"},
		{"wrong domain", "https://example.com/comparador?cp=ABC123", "UNEXPECTED_DOMAIN"},
		{"missing cp", "https://comparador.cnmc.gob.es/ofertas?imp=30.00", "MISSING_CP_PARAMETER"},
		{"blank cp", "https://comparador.cnmc.gob.es/ofertas?cp=%20%20", "MISSING_CP_PARAMETER"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bill, err := extractor.Extract(context.Background(), tc.url)
			if bill != nil {
				t.Fatalf("expected nil record for %q, got %+v", tc.url, bill)
			}
			if !shared.IsValidationError(err) {
				t.Fatalf("expected validation error for %q, got %v", tc.url, err)
			}
			var serviceErr *shared.ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code != tc.code {
				t.Fatalf("expected code %s for %q, got %v", tc.code, tc.url, err)
			}
		})
	}
}

func TestExtractQueryParameters(t *testing.T) {
	extractor := newTestExtractor(nil)

	t.Run("cp becomes code and postal code when five digits", func(t *testing.T) {
		bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bill.Code != "28013" {
			t.Errorf("expected code 28013, got %q", bill.Code)
		}
		if bill.PostalCode != "28013" {
			t.Errorf("expected postal code 28013, got %q", bill.PostalCode)
		}
	})

	t.Run("non-postal cp keeps postal sentinel", func(t *testing.T) {
		bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=REF-9071")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bill.Code != "REF-9071" {
			t.Errorf("expected code REF-9071, got %q", bill.Code)
		}
		if bill.PostalCode != models.NotAvailable {
			t.Errorf("expected postal sentinel, got %q", bill.PostalCode)
		}
	})

	priceCases := []struct {
		name     string
		imp      string
		expected float64
	}{
		{"dot decimal", "45.30", 45.30},
		{"integer", "45", 45},
		{"comma decimal falls back", "45,30", models.PriceUnknown},
		{"absent", "", models.PriceUnknown},
		{"garbage", "abc", models.PriceUnknown},
		{"negative", "-3.50", models.PriceUnknown},
		// ParseFloat accepts these spellings; the record must never carry them
		{"not a number", "NaN", models.PriceUnknown},
		{"lowercase not a number", "nan", models.PriceUnknown},
		{"infinity", "Inf", models.PriceUnknown},
		{"positive infinity", "+Inf", models.PriceUnknown},
		{"negative infinity", "-Inf", models.PriceUnknown},
	}
	for _, tc := range priceCases {
		t.Run("imp "+tc.name, func(t *testing.T) {
			url := "https://comparador.cnmc.gob.es/ofertas?cp=08001"
			if tc.imp != "" {
				url += "&imp=" + tc.imp
			}
			bill, err := extractor.Extract(context.Background(), url)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bill.Price != tc.expected {
				t.Errorf("imp=%q: expected price %v, got %v", tc.imp, tc.expected, bill.Price)
			}
		})
	}

	periodCases := []struct {
		name     string
		query    string
		expected string
	}{
		{"both dates", "&iniF=2024-01-01&finF=2024-01-31", "01/01/2024 - 31/01/2024"},
		{"start only", "&iniF=2024-01-01", models.NotAvailable},
		{"end only", "&finF=2024-01-31", models.NotAvailable},
		{"malformed start", "&iniF=01-01-2024&finF=2024-01-31", models.NotAvailable},
		{"absent", "", models.NotAvailable},
	}
	for _, tc := range periodCases {
		t.Run("period "+tc.name, func(t *testing.T) {
			bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=08001"+tc.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bill.BillingPeriod != tc.expected {
				t.Errorf("expected period %q, got %q", tc.expected, bill.BillingPeriod)
			}
		})
	}
}

func TestExtractPageClassification(t *testing.T) {
	pageText := strings.Join([]string{
		"Oferta de luz con energía 100% renovable.",
		"Sin permanencia y sin servicios adicionales.",
		"Tarifa con 2 precios fijos, revisión anual.",
	}, " ")

	extractor := newTestExtractor(&stubFetcher{content: &PageContent{
		Text:    pageText,
		Heading: "Comercializadora Luz Verde S.L.",
	}})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bill.GreenEnergy {
		t.Error("expected green energy to be detected")
	}
	if bill.Permanence != "Sin permanencia" {
		t.Errorf("expected Sin permanencia, got %q", bill.Permanence)
	}
	if bill.Services != "Sin servicios adicionales" {
		t.Errorf("expected Sin servicios adicionales, got %q", bill.Services)
	}
	if bill.TariffType != "Tarifa con 2 precios fijos" {
		t.Errorf("expected Tarifa con 2 precios fijos, got %q", bill.TariffType)
	}
	if bill.PriceReview != "Revisión anual" {
		t.Errorf("expected Revisión anual, got %q", bill.PriceReview)
	}
	if bill.Provider != "Comercializadora Luz Verde S.L." {
		t.Errorf("expected provider from heading, got %q", bill.Provider)
	}
}

func TestExtractNegativePhrasesWinOverPositive(t *testing.T) {
	// "sin permanencia" must match before the "con permanencia" substring it contains
	extractor := newTestExtractor(&stubFetcher{content: &PageContent{
		Text: "contrato sin permanencia, antes con permanencia",
	}})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Permanence != "Sin permanencia" {
		t.Errorf("expected Sin permanencia, got %q", bill.Permanence)
	}
}

func TestExtractPageFallbacks(t *testing.T) {
	extractor := newTestExtractor(&stubFetcher{content: &PageContent{
		Text: "Importe estimado 52,75 € para el código postal 41001",
	}})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=REF-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Price != 52.75 {
		t.Errorf("expected page-text price 52.75, got %v", bill.Price)
	}
	if bill.PostalCode != "41001" {
		t.Errorf("expected page-text postal code 41001, got %q", bill.PostalCode)
	}
}

func TestExtractQueryPriceWinsOverPageText(t *testing.T) {
	extractor := newTestExtractor(&stubFetcher{content: &PageContent{
		Text: "Importe estimado 99,99 €",
	}})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013&imp=45.30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bill.Price != 45.30 {
		t.Errorf("expected query price 45.30 to win, got %v", bill.Price)
	}
}

func TestExtractSurvivesFetchFailure(t *testing.T) {
	extractor := newTestExtractor(&stubFetcher{err: errors.New("connection refused")})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013&imp=45.30")
	if err != nil {
		t.Fatalf("fetch failure must not fail extraction, got %v", err)
	}

	if bill.Code != "28013" || bill.Price != 45.30 {
		t.Errorf("query-derived fields lost on fetch failure: %+v", bill)
	}
	if bill.TariffType != models.NotAvailable || bill.Permanence != models.NotAvailable ||
		bill.PriceReview != models.NotAvailable || bill.Services != models.NotAvailable ||
		bill.Provider != models.NotAvailable {
		t.Errorf("enrichment fields must keep sentinels on fetch failure: %+v", bill)
	}
	if bill.GreenEnergy {
		t.Error("green energy must default to false on fetch failure")
	}

	metrics := extractor.Metrics()
	if metrics.FetchAttempts.Load() != 1 || metrics.FetchSuccess.Load() != 0 {
		t.Errorf("expected 1 attempt 0 successes, got %d/%d",
			metrics.FetchAttempts.Load(), metrics.FetchSuccess.Load())
	}
}

func TestExtractedPriceAlwaysSerializes(t *testing.T) {
	extractor := newTestExtractor(nil)

	for _, imp := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf", "1e999"} {
		bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013&imp="+imp)
		if err != nil {
			t.Fatalf("imp=%q: unexpected error: %v", imp, err)
		}
		if bill.Price != models.PriceUnknown {
			t.Errorf("imp=%q: expected price sentinel, got %v", imp, bill.Price)
		}
		if _, err := json.Marshal(bill); err != nil {
			t.Errorf("imp=%q: record does not serialize: %v", imp, err)
		}
	}
}

func TestMetricsSurviveConcurrentExtractions(t *testing.T) {
	extractor := newTestExtractor(&stubFetcher{content: &PageContent{Text: "sin permanencia"}})

	const submissions = 50
	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := fmt.Sprintf("https://comparador.cnmc.gob.es/ofertas?cp=28013&n=%d", n)
			if _, err := extractor.Extract(context.Background(), url); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
		if i%10 == 0 {
			extractor.Metrics().LogSummary()
		}
	}
	wg.Wait()

	metrics := extractor.Metrics()
	if metrics.FetchAttempts.Load() != submissions || metrics.FetchSuccess.Load() != submissions {
		t.Errorf("expected %d attempts and successes, got %d/%d",
			submissions, metrics.FetchAttempts.Load(), metrics.FetchSuccess.Load())
	}
}

func TestExtractTruncatesLongHeading(t *testing.T) {
	extractor := newTestExtractor(&stubFetcher{content: &PageContent{
		Heading: strings.Repeat("á", models.MaxProviderLength+20),
	}})

	bill, err := extractor.Extract(context.Background(), "https://comparador.cnmc.gob.es/ofertas?cp=28013")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len([]rune(bill.Provider)); got != models.MaxProviderLength {
		t.Errorf("expected provider capped at %d runes, got %d", models.MaxProviderLength, got)
	}
}

func TestExtractPropertiesAlwaysPopulateRecord(t *testing.T) {
	extractor := newTestExtractor(nil)

	properties := gopter.NewProperties(nil)

	properties.Property("any well-formed comparison URL yields a fully populated record", prop.ForAll(
		func(code string, price float64) bool {
			url := fmt.Sprintf("https://comparador.cnmc.gob.es/ofertas?cp=%s&imp=%.2f", code, price)

			bill, err := extractor.Extract(context.Background(), url)
			if err != nil {
				t.Logf("unexpected error for %q: %v", url, err)
				return false
			}

			if bill.Code == "" || bill.PostalCode == "" || bill.BillingPeriod == "" ||
				bill.TariffType == "" || bill.Permanence == "" || bill.PriceReview == "" ||
				bill.Services == "" || bill.Provider == "" {
				t.Logf("empty field in record for %q: %+v", url, bill)
				return false
			}
			if bill.Price < 0 {
				t.Logf("negative price for %q: %v", url, bill.Price)
				return false
			}
			return true
		},
		gen.Identifier(),
		gen.Float64Range(0, 10000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
