package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

const philadelphiaBody = `[["NAME","DP03_0062E","DP04_0089E","DP04_0046PE","DP05_0018E","zip code tabulation area"],
["ZCTA5 19103","95000","410000","38.5","34.1","19103"]]`

type censusStub struct {
	server *httptest.Server
	calls  atomic.Int32
	query  atomic.Value
}

func newCensusStub(t *testing.T, status int, body string) *censusStub {
	t.Helper()
	stub := &censusStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		stub.query.Store(r.URL.Query())
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func setupLogger(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
}

func TestZip5(t *testing.T) {
	zip, ok := Zip5(" 19103-2201 ")
	assert.True(t, ok)
	assert.Equal(t, "19103", zip)

	_, ok = Zip5("191")
	assert.False(t, ok)
	_, ok = Zip5("")
	assert.False(t, ok)

	zip, ok = Zip5("１９１０３")
	assert.True(t, ok)
	assert.Equal(t, "１９１０３", zip)
	assert.True(t, utf8.ValidString(zip))

	_, ok = Zip5("ü191")
	assert.False(t, ok)
}

func TestEnrich_ParsesProfileResponse(t *testing.T) {
	setupLogger(t)
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL, APIKey: "secret"})

	rec := client.Enrich(context.Background(), "19103-2201")
	require.NotNil(t, rec)
	assert.Equal(t, 95000.0, *rec.MedianHouseholdIncome)
	assert.Equal(t, 410000.0, *rec.MedianHomeValue)
	assert.Equal(t, 38.5, *rec.HomeownershipRate)
	assert.Equal(t, 34.1, *rec.MedianAge)
	assert.Equal(t, "ZCTA5 19103", rec.CensusTract)

	q := stub.query.Load().(url.Values)
	assert.Equal(t, []string{"zip code tabulation area:19103"}, q["for"])
	assert.Equal(t, []string{"secret"}, q["key"])
	assert.Contains(t, q["get"][0], "DP03_0062E")
}

func TestEnrich_OmitsKeyWhenUnset(t *testing.T) {
	setupLogger(t)
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL})

	require.NotNil(t, client.Enrich(context.Background(), "19103"))
	q := stub.query.Load().(url.Values)
	_, hasKey := q["key"]
	assert.False(t, hasKey)
}

func TestEnrich_FailsSoft(t *testing.T) {
	setupLogger(t)
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `error`},
		{"unknown zcta", http.StatusNoContent, ``},
		{"header only", http.StatusOK, `[["NAME","DP03_0062E"]]`},
		{"malformed json", http.StatusOK, `[[`},
		{"all sentinels", http.StatusOK, `[["NAME","DP03_0062E","DP04_0089E","DP04_0046PE","DP05_0018E"],["ZCTA5 00000","-666666666","-666666666","-888888888","-666666666"]]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := newCensusStub(t, tc.status, tc.body)
			client := NewClient(Config{BaseURL: stub.server.URL})
			assert.Nil(t, client.Enrich(context.Background(), "00000"))
		})
	}
}

func TestEnrich_SentinelBecomesNilField(t *testing.T) {
	setupLogger(t)
	body := `[["NAME","DP03_0062E","DP04_0089E","DP04_0046PE","DP05_0018E"],["ZCTA5 08001","71000","-666666666",null,"41.0"]]`
	stub := newCensusStub(t, http.StatusOK, body)
	client := NewClient(Config{BaseURL: stub.server.URL})

	rec := client.Enrich(context.Background(), "08001")
	require.NotNil(t, rec)
	assert.Equal(t, 71000.0, *rec.MedianHouseholdIncome)
	assert.Nil(t, rec.MedianHomeValue)
	assert.Nil(t, rec.HomeownershipRate)
	assert.Equal(t, 41.0, *rec.MedianAge)
}

func TestEnrich_ShortPostalCodeSkipsLookup(t *testing.T) {
	setupLogger(t)
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL})

	assert.Nil(t, client.Enrich(context.Background(), "191"))
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestEnrich_TimesOut(t *testing.T) {
	setupLogger(t)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	assert.Nil(t, client.Enrich(context.Background(), "19103"))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEnrich_CanceledContextStopsAtLimiter(t *testing.T) {
	setupLogger(t)
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL, RateLimit: 1, Burst: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, client.Enrich(ctx, "19103"))
	assert.Equal(t, int32(0), stub.calls.Load())
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func TestEnrich_CachesSuccessfulLookups(t *testing.T) {
	setupLogger(t)
	rdb, mr := setupRedis(t)
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL}, WithCache(NewRedisCache(rdb, time.Hour)))

	first := client.Enrich(context.Background(), "19103")
	second := client.Enrich(context.Background(), "19103-0001")
	require.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stub.calls.Load())

	assert.True(t, mr.Exists(cacheKeyPrefix+"19103"))
	assert.Equal(t, time.Hour, mr.TTL(cacheKeyPrefix+"19103"))
}

func TestEnrich_DoesNotCacheEmptyResults(t *testing.T) {
	setupLogger(t)
	rdb, mr := setupRedis(t)
	stub := newCensusStub(t, http.StatusOK, `[["NAME"]]`)
	client := NewClient(Config{BaseURL: stub.server.URL}, WithCache(NewRedisCache(rdb, time.Hour)))

	assert.Nil(t, client.Enrich(context.Background(), "99999"))
	assert.Nil(t, client.Enrich(context.Background(), "99999"))
	assert.Equal(t, int32(2), stub.calls.Load())
	assert.False(t, mr.Exists(cacheKeyPrefix+"99999"))
}

func TestEnrich_CacheOutageFallsThrough(t *testing.T) {
	setupLogger(t)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	stub := newCensusStub(t, http.StatusOK, philadelphiaBody)
	client := NewClient(Config{BaseURL: stub.server.URL}, WithCache(NewRedisCache(rdb, time.Hour)))

	rec := client.Enrich(context.Background(), "19103")
	require.NotNil(t, rec)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	rdb, mr := setupRedis(t)
	require.NoError(t, mr.Set(cacheKeyPrefix+"19103", "{not json"))

	_, found, err := NewRedisCache(rdb, 0).Get(context.Background(), "19103")
	assert.Error(t, err)
	assert.False(t, found)
}
