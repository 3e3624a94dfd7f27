package depositsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/memdb"
)

type record struct {
	ID             string `json:"id"`
	Market         string `json:"market"`
	Owner          string `json:"owner"`
	DepositAddress string `json:"depositAddress"`
	Amount         string `json:"amount"`
	CreatedAt      string `json:"createdAt"`
}

// subgraph serves deposits filtered by createdAt_gte and paged by first/skip.
type subgraph struct {
	mu       sync.Mutex
	records  []record
	requests []map[string]interface{}
	fail     bool
}

func (g *subgraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	var body struct {
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.requests = append(g.requests, body.Variables)

	first := int(body.Variables["first"].(float64))
	skip := int(body.Variables["skip"].(float64))
	since, _ := strconv.ParseInt(body.Variables["since"].(string), 10, 64)

	var matching []record
	for _, rec := range g.records {
		created, _ := strconv.ParseInt(rec.CreatedAt, 10, 64)
		if created >= since && rec.Market == body.Variables["market"] {
			matching = append(matching, rec)
		}
	}
	page := []record{}
	for i := skip; i < len(matching) && i < skip+first; i++ {
		page = append(page, matching[i])
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"deposits": page}})
}

func rec(id string, created int64) record {
	return marketRec("0xmarket", id, created)
}

func marketRec(market, id string, created int64) record {
	return record{
		ID:             id,
		Market:         market,
		Owner:          "0x00000000000000000000000000000000000a11ce",
		DepositAddress: fmt.Sprintf("0x%040x", created),
		Amount:         "1000",
		CreatedAt:      strconv.FormatInt(created, 10),
	}
}

func testSyncer(t *testing.T, g *subgraph, store *memdb.Store, markets ...string) *Syncer {
	t.Helper()
	if len(markets) == 0 {
		markets = []string{"0xMARKET"}
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return newSyncer(log.New(), Config{
		Endpoint: srv.URL, Protocol: "royco", Markets: markets, ChainID: 1, Asset: "xETH", PageSize: 2,
	}, store, srv.Client())
}

func TestSyncer_FullThenDelta(t *testing.T) {
	g := &subgraph{records: []record{rec("a", 100), rec("b", 200), rec("c", 300)}}
	store := memdb.New()
	s := testSyncer(t, g, store)

	n, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, g.requests, 2)
	require.Equal(t, "0", g.requests[0]["since"])
	require.Equal(t, "0xmarket", g.requests[0]["market"])

	refs, err := store.DepositsForProtocol("royco")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, common.HexToAddress("0xa11ce"), refs[0].Owner)
	require.Equal(t, int64(1000), refs[0].Amount.Int64())
	require.Equal(t, int64(100), refs[0].SourceCreatedAt.Unix())

	g.records = append(g.records, rec("d", 400))
	n, err = s.Sync(context.Background())
	require.NoError(t, err)
	// the newest stored record is fetched again and upserted
	require.Equal(t, 2, n)
	require.Equal(t, "300", g.requests[2]["since"])

	count, err := store.CountDeposits("royco", "0xmarket")
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
}

func TestSyncer_NewMarketSyncsFullHistory(t *testing.T) {
	g := &subgraph{records: []record{
		rec("a", 500),
		marketRec("0xlate", "old", 100),
		marketRec("0xlate", "older", 50),
	}}
	store := memdb.New()

	n, err := testSyncer(t, g, store).Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// 0xLATE joins the config after royco already has records up to 500
	g.requests = nil
	n, err = testSyncer(t, g, store, "0xMARKET", "0xLATE").Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, g.requests, 3)
	require.Equal(t, "500", g.requests[0]["since"])
	require.Equal(t, "0xlate", g.requests[1]["market"])
	require.Equal(t, "0", g.requests[1]["since"])

	count, err := store.CountDeposits("royco", "0xLATE")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	refs, err := store.DepositsForProtocol("royco")
	require.NoError(t, err)
	require.Len(t, refs, 3)
}

func TestSyncer_FailurePropagates(t *testing.T) {
	g := &subgraph{fail: true}
	_, err := testSyncer(t, g, memdb.New()).Sync(context.Background())
	require.Error(t, err)
}

func TestDepositGql_ConvertRejectsMalformed(t *testing.T) {
	cfg := Config{Protocol: "royco"}
	_, err := depositGql{ID: "x", Owner: "nope", DepositAddress: "0x1", Amount: "1", CreatedAt: "1"}.convert(cfg)
	require.Error(t, err)
	_, err = depositGql{ID: "x", Owner: "0x00000000000000000000000000000000000a11ce", DepositAddress: "0x00000000000000000000000000000000000a11ce", Amount: "-5", CreatedAt: "1"}.convert(cfg)
	require.Error(t, err)
}
