package candles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cfdfeed/config"
	"cfdfeed/internal/rest"
	"cfdfeed/models"
)

// MockCache implements Cache for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	args := m.Called(ctx, key, dst)
	if fill, ok := args.Get(0).([]models.Candle); ok {
		*(dst.(*[]models.Candle)) = fill
		return true, args.Error(1)
	}
	return false, args.Error(1)
}

func (m *MockCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	args := m.Called(ctx, key, v, ttl)
	return args.Error(0)
}

func newBackend(t *testing.T, body string, hits *int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*hits++
		mu.Unlock()
		if r.URL.Path != "/candles" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("ts") != "1m" || q.Get("asset") != "BTC_USDC" || q.Get("startTime") != "0" || q.Get("endTime") != "0" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string, cache Cache) *Client {
	api := rest.NewClient(config.APIConfig{BaseURL: baseURL}, nil)
	return NewClient(api, cache, time.Minute)
}

func TestFetchNormalizesAndSorts(t *testing.T) {
	body := `{"data":[
		{"bucket":"2024-05-01T00:02:00Z","open":"3","high":"4","low":"2","close":"3.5","volume":"10"},
		{"time":1714521600000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":7},
		{"bucket":"1714521660","open":"2","high":"3","low":"1","close":"2.5","volume":"8"},
		{"bucket":null,"time":"not a time","open":"9"}
	]}`
	hits := 0
	srv := newBackend(t, body, &hits)

	got, err := newTestClient(srv.URL, nil).Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1714521600), got[0].Time)
	assert.Equal(t, 1.5, got[0].Close)
	assert.Equal(t, int64(1714521660), got[1].Time)
	assert.Equal(t, 2.5, got[1].Close)
	assert.Equal(t, int64(1714521720), got[2].Time)
	assert.Equal(t, 10.0, got[2].Volume)
}

func TestFetchValidatesQuery(t *testing.T) {
	c := newTestClient("http://unused", nil)

	_, err := c.Fetch(context.Background(), Query{Asset: "BTC_USDC"})
	assert.True(t, errors.Is(err, ErrInvalidQuery))

	_, err = c.Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC", StartTime: 10, EndTime: 5})
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestFetchPropagatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rest.ErrUnexpectedStatus))
}

func TestFetchUsesCache(t *testing.T) {
	hits := 0
	srv := newBackend(t, `{"data":[]}`, &hits)

	cached := []models.Candle{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1}}
	cache := new(MockCache)
	cache.On("GetJSON", mock.Anything, "candles:BTC_USDC:1m:0:0", mock.Anything).Return(cached, nil)

	got, err := newTestClient(srv.URL, cache).Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC"})
	require.NoError(t, err)
	assert.Equal(t, cached, got)
	assert.Equal(t, 0, hits)
	cache.AssertNotCalled(t, "SetJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchFillsCacheOnMiss(t *testing.T) {
	hits := 0
	srv := newBackend(t, `{"data":[{"time":5,"open":"1","high":"1","low":"1","close":"1","volume":"1"}]}`, &hits)

	cache := new(MockCache)
	cache.On("GetJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	cache.On("SetJSON", mock.Anything, "candles:BTC_USDC:1m:0:0", mock.Anything, time.Minute).Return(nil)

	got, err := newTestClient(srv.URL, cache).Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, hits)
	cache.AssertExpectations(t)
}

func TestFetchIgnoresCacheErrors(t *testing.T) {
	hits := 0
	srv := newBackend(t, `{"data":[]}`, &hits)

	cache := new(MockCache)
	cache.On("GetJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
	cache.On("SetJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	got, err := newTestClient(srv.URL, cache).Fetch(context.Background(), Query{Interval: "1m", Asset: "BTC_USDC"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, hits)
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`1714521600`, 1714521600, true},
		{`1714521600123`, 1714521600, true},
		{`"1714521600123"`, 1714521600, true},
		{`"2024-05-01T00:00:00Z"`, 1714521600, true},
		{`"2024-05-01T00:00:00.500+00:00"`, 1714521600, true},
		{`"nope"`, 0, false},
		{`"NaN"`, 0, false},
		{`"Inf"`, 0, false},
		{`"+Infinity"`, 0, false},
		{`"-Inf"`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseTime(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, 1.25, parseNumber(json.RawMessage(`"1.25"`)))
	assert.Equal(t, 3.0, parseNumber(json.RawMessage(`3`)))
	assert.Equal(t, 0.0, parseNumber(json.RawMessage(`"abc"`)))
	assert.Equal(t, 0.0, parseNumber(nil))
}
