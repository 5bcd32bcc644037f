// Package websearch queries third-party search engines for web snippets.
package websearch

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/reanm09/intellidocs/internal/types"
)

const (
	ProviderSerper     = "serper"
	ProviderDuckDuckGo = "duckduckgo"

	// DefaultDate is reported when a provider gives no publication date.
	DefaultDate = "Recent"
)

type SearchConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string // overrides the provider endpoint
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Logger    *slog.Logger
}

// NewWithConfig returns the configured search client.
func NewWithConfig(config SearchConfig) (types.WebSearcher, error) {
	switch config.Provider {
	case "", ProviderSerper:
		return NewSerper(config), nil
	case ProviderDuckDuckGo:
		return NewDuckDuckGo(config), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", config.Provider)
}

func applyDefaults(config *SearchConfig) {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
}

func newClient(config SearchConfig) (*http.Client, *rate.Limiter) {
	return &http.Client{Timeout: config.Timeout},
		rate.NewLimiter(rate.Limit(config.RateLimit), 1)
}

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
