package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

const (
	DefaultBaseURL = "https://api.census.gov/data/2022/acs/acs5/profile"
	DefaultTimeout = 10 * time.Second

	varName              = "NAME"
	varHouseholdIncome   = "DP03_0062E"
	varHomeValue         = "DP04_0089E"
	varOwnerOccupiedRate = "DP04_0046PE"
	varMedianAge         = "DP05_0018E"
)

var requestedVars = strings.Join([]string{varName, varHouseholdIncome, varHomeValue, varOwnerOccupiedRate, varMedianAge}, ",")

// Config configures the Census client.
type Config struct {
	BaseURL string
	// APIKey is optional; the public endpoint works without one at low volume.
	APIKey  string
	Timeout time.Duration
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client resolves a postal code to ZIP-level demographics from the Census ACS profile API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	cache      Cache
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache enables ZIP-level caching of successful lookups.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Zip5 returns the first five characters of a trimmed postal code.
func Zip5(postalCode string) (string, bool) {
	chars := []rune(strings.TrimSpace(postalCode))
	if len(chars) < 5 {
		return "", false
	}
	return string(chars[:5]), true
}

// Enrich never fails. Any lookup problem yields nil, which scoring treats as "no demographics".
func (c *Client) Enrich(ctx context.Context, postalCode string) *model.EnrichmentRecord {
	zip, ok := Zip5(postalCode)
	if !ok {
		return nil
	}
	log := logger.FromContext(ctx).With(zap.String("zip", zip))

	if c.cache != nil {
		rec, found, err := c.cache.Get(ctx, zip)
		if err != nil {
			log.Warn("Enrichment cache read failed", zap.Error(err))
		} else if found {
			observer.IncEnrichmentRequest("hit")
			return rec
		}
	}

	start := time.Now()
	rec, err := c.fetch(ctx, zip)
	observer.ObserveEnrichmentDuration(time.Since(start))
	if err != nil {
		log.Warn("Census lookup failed", zap.Error(err))
		observer.IncEnrichmentRequest("error")
		return nil
	}
	if rec == nil {
		log.Debug("Census returned no data")
		observer.IncEnrichmentRequest("empty")
		return nil
	}
	observer.IncEnrichmentRequest("ok")

	if c.cache != nil {
		if err := c.cache.Set(ctx, zip, rec); err != nil {
			log.Warn("Enrichment cache write failed", zap.Error(err))
		}
	}
	return rec
}

// fetch returns (nil, nil) when the upstream answered but had nothing usable.
func (c *Client) fetch(ctx context.Context, zip string) (*model.EnrichmentRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", apperrors.ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("get", requestedVars)
	q.Set("for", "zip code tabulation area:"+zip)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// Census answers 204 for a ZCTA it does not know.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: census status %d", apperrors.ErrUnavailable, resp.StatusCode)
	}

	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode census response: %w", err)
	}
	return parseRows(rows), nil
}

// parseRows reads the header row and the first data row.
func parseRows(rows [][]interface{}) *model.EnrichmentRecord {
	if len(rows) < 2 {
		return nil
	}
	header, values := rows[0], rows[1]
	cell := func(name string) interface{} {
		for i, h := range header {
			if s, ok := h.(string); ok && s == name && i < len(values) {
				return values[i]
			}
		}
		return nil
	}

	rec := &model.EnrichmentRecord{
		MedianHouseholdIncome: parseStat(cell(varHouseholdIncome)),
		MedianHomeValue:       parseStat(cell(varHomeValue)),
		HomeownershipRate:     parseStat(cell(varOwnerOccupiedRate)),
		MedianAge:             parseStat(cell(varMedianAge)),
	}
	if name, ok := cell(varName).(string); ok {
		rec.CensusTract = name
	}
	if rec.Empty() {
		return nil
	}
	return rec
}

// parseStat returns nil for missing, unparsable and negative values. Census
// encodes suppressed or unavailable estimates as large negative sentinels.
func parseStat(v interface{}) *float64 {
	var f float64
	switch val := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = val
	default:
		return nil
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
