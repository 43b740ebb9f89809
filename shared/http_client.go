package shared

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// BrowserUserAgent is sent on every outbound page fetch so the regulator's
// comparison site serves the same markup it serves a real browser.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewBrowserTransport creates an HTTP transport with connection pooling and
// timeout settings tuned for one-shot page fetches.
func NewBrowserTransport() *http.Transport {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,

		DisableKeepAlives: false,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: false,
	}

	logrus.WithField("component", "BrowserTransport").Debug("Created outbound HTTP transport")
	return transport
}

// BrowserHeaders returns the request headers sent alongside the user agent.
// The Accept-Language preference matters: the comparison site localizes its
// classification phrases.
func BrowserHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
		"Cache-Control":   "no-cache",
	}
}
