package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Footprint is the estimated environmental cost of producing an item.
type Footprint struct {
	CO2   float64 `json:"co2_emissions"`
	Water float64 `json:"water_consumption"`
}

// Scorer estimates a footprint from an item's brand and category.
type Scorer interface {
	Score(ctx context.Context, brand, category string) (Footprint, error)
}

// HTTPScorer calls the prediction service over HTTP.
type HTTPScorer struct {
	url  string
	http *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{url: url, http: &http.Client{Timeout: timeout}}
}

func (s *HTTPScorer) Score(ctx context.Context, brand, category string) (Footprint, error) {
	body, err := json.Marshal(map[string]string{"brand": brand, "category": category})
	if err != nil {
		return Footprint{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Footprint{}, fmt.Errorf("build scorer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return Footprint{}, fmt.Errorf("call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Footprint{}, fmt.Errorf("scorer returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var fp Footprint
	if err := json.NewDecoder(resp.Body).Decode(&fp); err != nil {
		return Footprint{}, fmt.Errorf("decode scorer response: %w", err)
	}
	return fp, nil
}
