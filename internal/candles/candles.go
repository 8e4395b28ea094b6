// Package candles fetches historical OHLCV bars from the backend REST API and
// normalizes their loosely typed rows.
package candles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"cfdfeed/internal/rest"
	"cfdfeed/logger"
	"cfdfeed/models"
)

// ErrInvalidQuery is returned when a query lacks an interval or asset.
var ErrInvalidQuery = errors.New("invalid candle query")

// Values above this are epoch milliseconds rather than seconds.
const millisThreshold = 1_000_000_000_000

// Query selects a range of bars. Zero start and end times let the backend
// choose the range.
type Query struct {
	Interval  string `form:"interval" json:"interval"`
	StartTime int64  `form:"startTime" json:"startTime"`
	EndTime   int64  `form:"endTime" json:"endTime"`
	Asset     string `form:"asset" json:"asset"`
}

func (q Query) cacheKey() string {
	return fmt.Sprintf("candles:%s:%s:%d:%d", q.Asset, q.Interval, q.StartTime, q.EndTime)
}

// Cache is the read-through store Fetch consults before the backend.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

type Client struct {
	api   *rest.Client
	cache Cache
	ttl   time.Duration
	log   *logger.Log
}

// NewClient returns a client backed by api. cache may be nil.
func NewClient(api *rest.Client, cache Cache, ttl time.Duration) *Client {
	return &Client{api: api, cache: cache, ttl: ttl, log: logger.GetLogger()}
}

// Fetch returns the bars for q sorted ascending by time.
func (c *Client) Fetch(ctx context.Context, q Query) ([]models.Candle, error) {
	q.Interval = strings.TrimSpace(q.Interval)
	q.Asset = strings.TrimSpace(q.Asset)
	if q.Interval == "" || q.Asset == "" {
		return nil, fmt.Errorf("%w: interval and asset are required", ErrInvalidQuery)
	}
	if q.EndTime != 0 && q.StartTime > q.EndTime {
		return nil, fmt.Errorf("%w: startTime after endTime", ErrInvalidQuery)
	}

	log := c.log.WithComponent("candles").WithFields(logger.Fields{
		"asset":    q.Asset,
		"interval": q.Interval,
	})

	if c.cache != nil {
		var cached []models.Candle
		found, err := c.cache.GetJSON(ctx, q.cacheKey(), &cached)
		if err != nil {
			log.WithError(err).Warn("candle cache read failed")
		} else if found {
			log.Debug("candle cache hit")
			return cached, nil
		}
	}

	var resp struct {
		Data []row `json:"data"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/candles",
		Query: url.Values{
			"ts":        {q.Interval},
			"startTime": {strconv.FormatInt(q.StartTime, 10)},
			"endTime":   {strconv.FormatInt(q.EndTime, 10)},
			"asset":     {q.Asset},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	out := normalize(resp.Data)

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.SetJSON(ctx, q.cacheKey(), out, c.ttl); err != nil {
			log.WithError(err).Warn("candle cache write failed")
		}
	}
	return out, nil
}

// row is one bar as the backend sends it: the time under bucket or time, as a
// number or a string, and prices as numbers or numeric strings.
type row struct {
	Bucket json.RawMessage `json:"bucket"`
	Time   json.RawMessage `json:"time"`
	Open   json.RawMessage `json:"open"`
	High   json.RawMessage `json:"high"`
	Low    json.RawMessage `json:"low"`
	Close  json.RawMessage `json:"close"`
	Volume json.RawMessage `json:"volume"`
}

// normalize converts rows to candles with epoch-second times, sorted
// ascending. Rows whose time can't be read are skipped.
func normalize(rows []row) []models.Candle {
	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		raw := r.Bucket
		if isNull(raw) {
			raw = r.Time
		}
		ts, ok := parseTime(raw)
		if !ok {
			continue
		}
		out = append(out, models.Candle{
			Time:   ts,
			Open:   parseNumber(r.Open),
			High:   parseNumber(r.High),
			Low:    parseNumber(r.Low),
			Close:  parseNumber(r.Close),
			Volume: parseNumber(r.Volume),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// parseTime accepts epoch seconds or milliseconds as a number or numeric
// string, or an RFC 3339 date string.
func parseTime(raw json.RawMessage) (int64, bool) {
	if isNull(raw) {
		return 0, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		if v > millisThreshold {
			v = v / 1000
		}
		return int64(math.Floor(v)), true
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// parseNumber reads a number or numeric string. Anything else reads as 0 so
// the bar stays JSON encodable.
func parseNumber(raw json.RawMessage) float64 {
	if isNull(raw) {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
