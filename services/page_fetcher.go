package services

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/facturaqr/facturas-backend/config"
	"github.com/facturaqr/facturas-backend/shared"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// PageContent holds the parts of a fetched page the extractor cares about:
// the full visible text and the first non-empty top-level heading.
type PageContent struct {
	Text    string
	Heading string
}

// PageFetcher retrieves the content of a bill-comparison page. Implementations
// must bound their own latency; a failed fetch is reported as an error and the
// caller degrades to sentinel values.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*PageContent, error)
}

// headingSelectors is the fallback order for locating the provider heading
var headingSelectors = []string{
	"h1.page-title",
	"h1",
	"h2",
	"title",
}

// NewPageFetcher selects the fetch strategy from configuration: a plain HTTP
// collector by default, a headless browser when the target page only renders
// its content client-side.
func NewPageFetcher(cfg *config.ExtractorConfiguration) PageFetcher {
	if cfg.RenderJS {
		return newChromedpPageFetcher(cfg)
	}
	return newCollyPageFetcher(cfg)
}

// collyPageFetcher fetches pages over plain HTTP with browser-like headers
type collyPageFetcher struct {
	timeout     time.Duration
	rateLimiter *shared.FetchRateLimiter
}

func newCollyPageFetcher(cfg *config.ExtractorConfiguration) *collyPageFetcher {
	return &collyPageFetcher{
		timeout:     cfg.FetchTimeout,
		rateLimiter: shared.NewFetchRateLimiter(cfg.FetchRateLimit),
	}
}

func (f *collyPageFetcher) Fetch(ctx context.Context, pageURL string) (*PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.rateLimiter.EnforceRateLimit()

	c := colly.NewCollector(colly.UserAgent(shared.BrowserUserAgent))
	c.SetRequestTimeout(f.timeout)
	c.WithTransport(shared.NewBrowserTransport())

	c.OnRequest(func(r *colly.Request) {
		for header, value := range shared.BrowserHeaders() {
			r.Headers.Set(header, value)
		}

		logrus.WithFields(logrus.Fields{
			"component": "collyPageFetcher",
			"url":       r.URL.String(),
		}).Debug("Fetching page")
	})

	content := &PageContent{}

	c.OnHTML("html", func(e *colly.HTMLElement) {
		content.Text = e.DOM.Text()
		content.Heading = findHeading(e.DOM)
	})

	var fetchError error
	c.OnError(func(r *colly.Response, err error) {
		fetchError = err
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, err
	}
	c.Wait()

	if fetchError != nil {
		return nil, fetchError
	}
	return content, nil
}

// findHeading walks the selector fallback list and returns the first
// non-empty match.
func findHeading(dom *goquery.Selection) string {
	for _, selector := range headingSelectors {
		heading := strings.TrimSpace(dom.Find(selector).First().Text())
		if heading != "" {
			return heading
		}
	}
	return ""
}

// chromedpPageFetcher renders the page in a headless browser before reading
// its text. The production comparison page is a client-side application, so
// plain HTTP fetches see an empty shell.
type chromedpPageFetcher struct {
	timeout     time.Duration
	rateLimiter *shared.FetchRateLimiter
}

func newChromedpPageFetcher(cfg *config.ExtractorConfiguration) *chromedpPageFetcher {
	return &chromedpPageFetcher{
		timeout:     cfg.FetchTimeout,
		rateLimiter: shared.NewFetchRateLimiter(cfg.FetchRateLimit),
	}
}

func (f *chromedpPageFetcher) Fetch(ctx context.Context, pageURL string) (*PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.rateLimiter.EnforceRateLimit()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(shared.BrowserUserAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, f.timeout)
	defer cancelTimeout()

	var pageText, heading string

	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1280, 800),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &pageText),
		chromedp.Evaluate(`(() => {
			const heading = document.querySelector('h1.page-title') || document.querySelector('h1') || document.querySelector('h2');
			return heading ? heading.innerText.trim() : document.title;
		})()`, &heading),
	)
	if err != nil {
		return nil, err
	}

	return &PageContent{Text: pageText, Heading: strings.TrimSpace(heading)}, nil
}
