package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/api/models"
	"github.com/wjorgensen/StreamDroplets/api/service"
	"github.com/wjorgensen/StreamDroplets/cache"
	"github.com/wjorgensen/StreamDroplets/config"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/memdb"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/metrics"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	morpho = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	day    = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func seededStore(t *testing.T) *memdb.Store {
	store := memdb.New()
	require.NoError(t, store.CommitShareBalances([]balance.ShareBalance{{
		Address:        alice,
		Asset:          "xBTC",
		Shares:         big.NewInt(150_000_000),
		Underlying:     big.NewInt(165_000_000),
		ValuationRound: 9,
	}}, nil))
	require.NoError(t, store.CommitIntegrationBalances([]balance.IntegrationBalance{{
		Address:    alice,
		Protocol:   "morpho",
		Contract:   morpho,
		Asset:      "xBTC",
		Shares:     big.NewInt(50_000_000),
		Underlying: big.NewInt(55_000_000),
	}}, nil))
	require.NoError(t, store.StoreSnapshots([]snapshot.DailySnapshot{{
		Date:            day,
		Asset:           "xBTC",
		TotalShares:     big.NewInt(200_000_000),
		TotalUnderlying: big.NewInt(220_000_000),
		Holders:         1,
		PricePerShare:   big.NewInt(110_000_000),
		ValuationRound:  9,
	}}, []snapshot.UserDailySnapshot{
		{Date: day, Address: alice, Asset: "xBTC", Shares: big.NewInt(150_000_000), Underlying: big.NewInt(165_000_000)},
		{Date: day, Address: alice, Asset: "xBTC", Protocol: "morpho", Contract: morpho, Shares: big.NewInt(50_000_000), Underlying: big.NewInt(55_000_000)},
	}))
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{{
		ChainID:     1,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 10,
		EventDate:   day,
		Asset:       "xBTC",
		Kind:        event.KindRedeem,
		Sender:      alice,
		Amount:      big.NewInt(150_000_000),
	}}))
	return store
}

func testRouter(t *testing.T, lruCache *cache.LruCache) http.Handler {
	store := seededStore(t)
	svc := service.New(new(service.Validator), store, store, store, store, map[string]uint8{"xBTC": 8}, log.New())
	return NewRouter(log.New(), svc, lruCache, metrics.NewPromHTTPRecorder(prometheus.NewRegistry(), MetricsNamespace))
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestApi_Balances(t *testing.T) {
	h := testRouter(t, nil)

	var resp models.BalancesResponse
	require.Equal(t, http.StatusOK, get(t, h, BalancesPath+alice.Hex(), &resp))
	require.Equal(t, alice.Hex(), resp.Address)
	require.Len(t, resp.Balances, 1)
	require.Equal(t, "150000000", resp.Balances[0].Shares.Raw)
	require.Equal(t, "1.5", resp.Balances[0].Shares.Formatted)
	require.Equal(t, "1.65", resp.Balances[0].Underlying.Formatted)
	require.Equal(t, uint64(9), resp.Balances[0].ValuationRound)

	require.Equal(t, http.StatusBadRequest, get(t, h, BalancesPath+"0x1234", nil))
}

func TestApi_Integrations(t *testing.T) {
	h := testRouter(t, nil)

	var resp models.IntegrationsResponse
	require.Equal(t, http.StatusOK, get(t, h, IntegrationsPath+alice.Hex(), &resp))
	require.Len(t, resp.Positions, 1)
	require.Equal(t, "morpho", resp.Positions[0].Protocol)
	require.Equal(t, morpho.Hex(), resp.Positions[0].Contract)
	require.Equal(t, "0.5", resp.Positions[0].Shares.Formatted)
}

func TestApi_Snapshots(t *testing.T) {
	h := testRouter(t, nil)

	var daily models.SnapshotResponse
	require.Equal(t, http.StatusOK, get(t, h, SnapshotsPath+"2025-06-01", &daily))
	require.Equal(t, "2025-06-01", daily.Date)
	require.Len(t, daily.Assets, 1)
	require.Equal(t, "2.2", daily.Assets[0].TotalUnderlying.Formatted)

	var latest models.SnapshotResponse
	require.Equal(t, http.StatusOK, get(t, h, SnapshotsPath+"latest", &latest))
	require.Equal(t, daily, latest)

	var user models.UserSnapshotResponse
	require.Equal(t, http.StatusOK, get(t, h, SnapshotsPath+"2025-06-01/"+alice.Hex(), &user))
	require.Len(t, user.Positions, 2)
	require.Empty(t, user.Positions[0].Protocol)
	require.Empty(t, user.Positions[0].Contract)
	require.Equal(t, "morpho", user.Positions[1].Protocol)

	require.Equal(t, http.StatusNotFound, get(t, h, SnapshotsPath+"2025-06-02", nil))
	require.Equal(t, http.StatusBadRequest, get(t, h, SnapshotsPath+"June-1", nil))
}

func TestApi_Events(t *testing.T) {
	h := testRouter(t, nil)

	var resp models.EventsResponse
	require.Equal(t, http.StatusOK, get(t, h, EventsPath+alice.Hex()+"?limit=10", &resp))
	require.Len(t, resp.Events, 1)
	require.Equal(t, "redeem", resp.Events[0].Kind)
	require.Equal(t, "1.5", resp.Events[0].Amount.Formatted)

	require.Equal(t, http.StatusBadRequest, get(t, h, EventsPath+alice.Hex()+"?limit=-1", nil))
}

func TestApi_CachedResponse(t *testing.T) {
	lruCache := cache.NewLruCache(config.CacheConfig{
		ListSize: 8, DetailSize: 8, ListExpireTime: time.Minute, DetailExpireTime: time.Minute,
	})
	h := testRouter(t, lruCache)

	var first models.BalancesResponse
	require.Equal(t, http.StatusOK, get(t, h, BalancesPath+alice.Hex(), &first))

	cached, err := lruCache.GetBalances("balances{address:" + "0x00000000000000000000000000000000000a11ce" + "}")
	require.NoError(t, err)
	require.Equal(t, first.Balances[0].Shares, cached.Balances[0].Shares)
}

func TestApi_Healthz(t *testing.T) {
	h := testRouter(t, nil)
	require.Equal(t, http.StatusOK, get(t, h, HealthPath, nil))
}
