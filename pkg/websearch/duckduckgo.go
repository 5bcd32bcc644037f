package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/reanm09/intellidocs/internal/models"
)

const duckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the keyless DuckDuckGo HTML results page.
type DuckDuckGo struct {
	config  SearchConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewDuckDuckGo(config SearchConfig) *DuckDuckGo {
	applyDefaults(&config)
	if config.BaseURL == "" {
		config.BaseURL = duckDuckGoURL
	}

	client, limiter := newClient(config)
	return &DuckDuckGo{
		config:  config,
		client:  client,
		limiter: limiter,
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, n int) ([]models.WebResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(d.config.BaseURL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("q", query)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; intellidocs)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d from duckduckgo", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []models.WebResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(results) == n {
			return false
		}
		if sel.HasClass("result--ad") {
			return true
		}

		link := sel.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}

		results = append(results, models.WebResult{
			Title:   cleanText(link.Text()),
			URL:     resolveRedirect(href),
			Snippet: cleanText(sel.Find(".result__snippet").Text()),
			Date:    DefaultDate,
		})
		return true
	})

	d.config.Logger.Debug("duckduckgo search", slog.String("query", query), slog.Int("results", len(results)))
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
