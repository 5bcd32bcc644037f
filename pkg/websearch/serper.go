package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

const serperURL = "https://google.serper.dev/search"

// Serper calls the Serper Google search API.
type Serper struct {
	config  SearchConfig
	client  *http.Client
	limiter *rate.Limiter
}

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic"`
}

func NewSerper(config SearchConfig) *Serper {
	applyDefaults(&config)
	if config.BaseURL == "" {
		config.BaseURL = serperURL
	}

	client, limiter := newClient(config)
	return &Serper{
		config:  config,
		client:  client,
		limiter: limiter,
	}
}

// Search returns at most n organic results in provider order. Without an
// API key it returns types.ErrNoCredentials.
func (s *Serper) Search(ctx context.Context, query string, n int) ([]models.WebResult, error) {
	if s.config.APIKey == "" {
		return nil, types.ErrNoCredentials
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(serperRequest{Query: query, Num: n})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("received status code %d from serper: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode serper response: %w", err)
	}

	results := make([]models.WebResult, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		if len(results) == n {
			break
		}
		result := models.WebResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Date:    r.Date,
		}
		if result.Title == "" {
			result.Title = "No Title"
		}
		if result.Date == "" {
			result.Date = DefaultDate
		}
		results = append(results, result)
	}

	s.config.Logger.Debug("serper search", slog.String("query", query), slog.Int("results", len(results)))
	return results, nil
}
